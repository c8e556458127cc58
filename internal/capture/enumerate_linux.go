//go:build linux

package capture

import "github.com/jochenvg/go-udev"

// InputDevice is one enumerated ALSA capture device.
type InputDevice struct {
	Name    string
	DevNode string
}

// EnumerateLinux lists ALSA sound-subsystem capture devices via udev, so
// the CLI's --list-devices flag can show the operator their names.
// Device.Start does not consult it; it queries portaudio directly.
func EnumerateLinux() ([]InputDevice, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchSubsystem("sound"); err != nil {
		return nil, err
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, err
	}

	var out []InputDevice
	for _, d := range devices {
		node := d.Devnode()
		if node == "" {
			continue
		}
		name := d.PropertyValue("ID_MODEL")
		if name == "" {
			name = d.Sysname()
		}
		out = append(out, InputDevice{Name: name, DevNode: node})
	}
	return out, nil
}
