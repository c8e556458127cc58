// Package config loads and validates the detector's admission-time
// parameters (spec.md §6) from a YAML file, turning them into the
// immutable per-stage parameter blocks the rest of the pipeline consumes.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fmewatch/fmewatch/internal/errs"
)

// Config is the top-level admission-time document, shaped directly after
// spec.md §6's configuration table.
type Config struct {
	SampleLengthMS  float64            `yaml:"sample_length_ms"`
	FreqResolutionN int                `yaml:"freq_resolution_n"`
	MaxNumPeaks     int                `yaml:"max_num_peaks"`
	Overlap         float64            `yaml:"overlap"`
	Delta           float64            `yaml:"delta"`
	SearchFreqs     map[int]float64    `yaml:"search_freqs"`

	CodeLength             int     `yaml:"code_length"`
	MinLengthSeconds       float64 `yaml:"min_length"`
	MaxLengthSeconds       float64 `yaml:"max_length"`
	ExcessTimeSeconds      float64 `yaml:"excess_time"`
	DtMaxTwiceSeconds      float64 `yaml:"dt_max_twice"`
	MinDistanceRepetitionS float64 `yaml:"min_distance_repetition"`
	MaxToneLevelRatio      float64 `yaml:"max_tone_level_ratio"`

	DownsampleFactorProc int     `yaml:"downsample_factor_proc"`
	DownsampleFactorRec  int     `yaml:"downsample_factor_rec"`
	CutoffFreqProc       float64 `yaml:"cutoff_freq_proc"`
	CutoffFreqRec        float64 `yaml:"cutoff_freq_rec"`
	TransWidthProc       float64 `yaml:"trans_width_proc"`
	TransWidthRec        float64 `yaml:"trans_width_rec"`

	RecordTimeLowerSeconds  float64 `yaml:"record_time_lower"`
	RecordTimeUpperSeconds  float64 `yaml:"record_time_upper"`
	RecordTimeBufferSeconds float64 `yaml:"record_time_buffer"`
	StoringFs               float64 `yaml:"storing_fs"`

	Whitelist       []string `yaml:"whitelist"`
	DefaultRecording bool    `yaml:"default_recording"`

	// AlarmDatabase lists codes the deployment has an alarm entry for;
	// used to resolve DefaultRecording=false per the original's
	// "whitelist is exactly the alarm database" rule.
	AlarmDatabase []string `yaml:"alarm_database"`

	SampleDevice string `yaml:"sample_device"`
	CaptureFs    float64 `yaml:"capture_fs"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) MinLength() time.Duration  { return secondsToDuration(c.MinLengthSeconds) }
func (c *Config) MaxLength() time.Duration  { return secondsToDuration(c.MaxLengthSeconds) }
func (c *Config) ExcessTime() time.Duration { return secondsToDuration(c.ExcessTimeSeconds) }
func (c *Config) DtMaxTwice() time.Duration { return secondsToDuration(c.DtMaxTwiceSeconds) }
func (c *Config) MinDistanceRepetition() time.Duration {
	return secondsToDuration(c.MinDistanceRepetitionS)
}
func (c *Config) RecordTimeLower() time.Duration {
	return secondsToDuration(c.RecordTimeLowerSeconds)
}
func (c *Config) RecordTimeUpper() time.Duration {
	return secondsToDuration(c.RecordTimeUpperSeconds)
}
func (c *Config) RecordTimeBuffer() time.Duration {
	return secondsToDuration(c.RecordTimeBufferSeconds)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ResolveWhitelist implements the default_recording / alarm-database
// semantics spec.md §6 names: when DefaultRecording is true the
// whitelist is empty (meaning "all codes"); when false and Whitelist is
// also empty, it is populated from AlarmDatabase, which must then be
// non-empty.
func (c *Config) ResolveWhitelist() ([]string, error) {
	if c.DefaultRecording {
		return nil, nil
	}
	if len(c.Whitelist) > 0 {
		return c.Whitelist, nil
	}
	if len(c.AlarmDatabase) == 0 {
		return nil, errs.ErrWhitelistWithoutAlarms
	}
	return c.AlarmDatabase, nil
}

// Validate performs the admission-time checks that don't belong to a
// specific stage's own constructor (those return their own sentinel
// errors when the caller passes the corresponding field through).
func (c *Config) Validate() error {
	if c.Overlap < 0 || c.Overlap >= 1 {
		return errs.ErrOverlapOutOfRange
	}
	if c.Delta < 0 {
		return errs.ErrDeltaNegative
	}
	if len(c.SearchFreqs) == 0 {
		return errs.ErrSearchFreqsEmpty
	}
	if _, err := c.ResolveWhitelist(); err != nil {
		return err
	}
	return nil
}
