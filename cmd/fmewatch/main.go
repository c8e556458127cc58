// Command fmewatch runs the FME five-tone selective-call detector
// against a live capture device, logging confirmed sequences and
// optionally advertising itself on the LAN.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/brutella/dnssd"
	"github.com/pkg/term"
	"github.com/spf13/pflag"

	"github.com/fmewatch/fmewatch/internal/audiosink"
	"github.com/fmewatch/fmewatch/internal/capture"
	"github.com/fmewatch/fmewatch/internal/config"
	"github.com/fmewatch/fmewatch/internal/filterdesign"
	"github.com/fmewatch/fmewatch/internal/freqsearch"
	"github.com/fmewatch/fmewatch/internal/notify"
	"github.com/fmewatch/fmewatch/internal/pipeline"
	"github.com/fmewatch/fmewatch/internal/recording"
	"github.com/fmewatch/fmewatch/internal/resample"
	"github.com/fmewatch/fmewatch/internal/seqlog"
	"github.com/fmewatch/fmewatch/internal/toneassembler"
)

func main() {
	var (
		configPath  = pflag.StringP("config", "c", "fmewatch.yaml", "Path to YAML configuration file.")
		deviceName  = pflag.StringP("device", "d", "", "Capture device name substring; empty selects the default input device.")
		listDevices = pflag.Bool("list-devices", false, "List capture devices seen by udev, then exit.")
		dryRun      = pflag.Bool("dry-run", false, "Validate configuration and exit without opening the capture device.")
		help        = pflag.BoolP("help", "h", false, "Display help text.")
	)
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: fmewatch [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()
	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{ReportTimestamp: true})

	if *listDevices {
		devices, err := capture.EnumerateLinux()
		if err != nil {
			logger.Error("failed to enumerate capture devices", "err", err)
			os.Exit(1)
		}
		for _, d := range devices {
			fmt.Printf("%s\t%s\n", d.DevNode, d.Name)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	whitelist, err := cfg.ResolveWhitelist()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if *dryRun {
		logger.Info("configuration valid, dry-run requested, exiting")
		return
	}

	procKernel, err := filterdesign.DesignLowpassFromTransition(cfg.TransWidthProc, cfg.CutoffFreqProc, cfg.CaptureFs, 500, 1000)
	if err != nil {
		logger.Error("failed to design processing-path filter", "err", err)
		os.Exit(1)
	}
	recKernel, err := filterdesign.DesignLowpassFromTransition(cfg.TransWidthRec, cfg.CutoffFreqRec, cfg.CaptureFs, 500, 1000)
	if err != nil {
		logger.Error("failed to design recording-path filter", "err", err)
		os.Exit(1)
	}

	downsampler, err := resample.New(resample.Params{
		ProcKernel: procKernel, ProcUp: 1, ProcDown: cfg.DownsampleFactorProc,
		RecKernel: recKernel, RecUp: 1, RecDown: cfg.DownsampleFactorRec,
		SymTol: 1e-9,
	})
	if err != nil {
		logger.Error("failed to build downsampler", "err", err)
		os.Exit(1)
	}

	var sup *pipeline.Supervisor
	onRuntimeError := func(e error) {
		if sup != nil {
			sup.Fail(e)
		}
	}
	fsStage, err := freqsearch.New(freqsearch.Params{
		SampleLengthMS:  cfg.SampleLengthMS,
		FreqResolutionN: cfg.FreqResolutionN,
		Fs:              cfg.CaptureFs / float64(cfg.DownsampleFactorProc),
		MaxNumPeaks:     cfg.MaxNumPeaks,
		Overlap:         cfg.Overlap,
		Delta:           cfg.Delta,
		SearchFreqs:     toFreqSlice(cfg.SearchFreqs),
		OnRuntimeError:  onRuntimeError,
	})
	if err != nil {
		logger.Error("invalid frequency-search parameters", "err", err)
		os.Exit(1)
	}

	assembler := toneassembler.New()
	if err := assembler.SetParams(toneassembler.Params{
		CodeLength:        cfg.CodeLength,
		ExcessTime:        cfg.ExcessTime(),
		DtMaxTwice:        cfg.DtMaxTwice(),
		MinLength:         cfg.MinLength(),
		MaxLength:         cfg.MaxLength(),
		MaxToneLevelRatio: cfg.MaxToneLevelRatio,
		OnRuntimeError:    onRuntimeError,
	}); err != nil {
		logger.Error("invalid tone-assembler parameters", "err", err)
		os.Exit(1)
	}

	eventLog, err := seqlog.New(true, "logs")
	if err != nil {
		logger.Error("failed to open sequence log", "err", err)
		os.Exit(1)
	}
	defer eventLog.Close()

	recBuffer := recording.New(recording.Params{
		RecordTimeLower:  cfg.RecordTimeLower(),
		RecordTimeUpper:  cfg.RecordTimeUpper(),
		StoringFs:        cfg.StoringFs,
		SourceFs:         cfg.CaptureFs / float64(cfg.DownsampleFactorRec),
		RecordTimeBuffer: cfg.RecordTimeBuffer(),
	}, func(excerpt recording.Excerpt) {
		if sup != nil {
			sup.RecordingCompleted(excerpt)
		}
		if err := eventLog.Write(excerpt.Sequence); err != nil {
			logger.Warn("failed to write sequence log row", "err", err)
		}
	})

	sink := audiosink.NewWAVSink(int(cfg.StoringFs))

	sup = pipeline.New(logger, pipeline.Params{
		MinDistanceRepetition: cfg.MinDistanceRepetition(),
		RecordTimeUpper:       cfg.RecordTimeUpper(),
		Whitelist:             whitelist,
		SearchFreqs:           cfg.SearchFreqs,
		FreqTolHz:             20,
		FrameDuration:         time.Duration(cfg.SampleLengthMS * float64(time.Millisecond)),
		RecordingsDir:         "recordings",
	}, downsampler, fsStage, assembler, recBuffer, sink)
	sup.AddSequenceListener(&notify.LogNotifier{Logger: logger})
	sup.AddRecordingListener(&notify.LogNotifier{Logger: logger})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Start(ctx); err != nil {
		logger.Error("failed to start pipeline", "err", err)
		os.Exit(1)
	}

	deviceIndex := -1
	if *deviceName != "" {
		idx, err := capture.ResolveDeviceIndex(*deviceName)
		if err != nil {
			logger.Error("no capture device matches --device, falling back to default", "device", *deviceName, "err", err)
		} else {
			deviceIndex = idx
		}
	}
	dev := capture.NewDevice(deviceIndex, cfg.CaptureFs, 0, nil)
	dev.OnChunk(sup.Feed)
	if err := dev.Start(); err != nil {
		logger.Error("failed to start capture", "err", err)
		sup.Stop()
		os.Exit(1)
	}

	responder, err := dnssd.NewResponder()
	if err == nil {
		svc, svcErr := dnssd.NewService(dnssd.Config{Name: "fmewatch", Type: "_fmewatch._tcp", Port: 0})
		if svcErr == nil {
			go responder.Respond(ctx)
			responder.Add(svc)
		}
	}

	runConsole(ctx, cancel, logger, dev, sup)
}

func toFreqSlice(m map[int]float64) []float64 {
	out := make([]float64, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

// runConsole drives raw-mode single-keystroke console control ('q' quit,
// 's' status), the thread-safe console interaction spec.md §1 excludes
// from the core proper but the host CLI still needs.
func runConsole(ctx context.Context, cancel context.CancelFunc, logger *charmlog.Logger, dev *capture.Device, sup *pipeline.Supervisor) {
	t, err := term.Open("/dev/tty", term.RawMode)
	if err != nil {
		logger.Warn("raw-mode console unavailable, press Ctrl-C to quit", "err", err)
		<-ctx.Done()
		sup.Stop()
		dev.Stop()
		return
	}
	defer t.Restore()

	buf := make([]byte, 1)
	for {
		select {
		case <-ctx.Done():
			sup.Stop()
			dev.Stop()
			return
		default:
		}
		n, err := t.Read(buf)
		if err != nil || n == 0 {
			continue
		}
		switch buf[0] {
		case 'q', 'Q':
			cancel()
			sup.Stop()
			dev.Stop()
			return
		case 's', 'S':
			logger.Info("status", "capture_running", dev.IsRunning(), "fatal_err", sup.Err())
		}
	}
}
