// Package config loads codec settings from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/arloliu/urlstate"
	"github.com/arloliu/urlstate/dictionary"
	"github.com/arloliu/urlstate/errs"
	"github.com/arloliu/urlstate/format"
	"github.com/arloliu/urlstate/overflow"
	"github.com/arloliu/urlstate/scheduler"
)

// Config holds everything needed to build a Codec and its Scheduler.
type Config struct {
	// ContentPack is the dictionary id the codec is bound to.
	ContentPack   string `yaml:"content_pack" validate:"required,max=255"`
	DictionaryDir string `yaml:"dictionary_dir" validate:"required"`
	// DictionaryVersion pins the version used for encoding; 0 means the newest one.
	DictionaryVersion uint64        `yaml:"dictionary_version"`
	Compression       string        `yaml:"compression" validate:"required,oneof=flate deflate zstd s2 lz4 none"`
	FormatVersion     uint8         `yaml:"format_version" validate:"oneof=1 2"`
	Budget            int           `yaml:"budget" validate:"gt=0"`
	RetainedTurns     int           `yaml:"retained_turns" validate:"gte=0"`
	Debounce          time.Duration `yaml:"debounce" validate:"gt=0"`
	// WatchDictionaries registers dictionary files published while the process runs.
	WatchDictionaries bool `yaml:"watch_dictionaries"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns the settings used when no file overrides them.
func DefaultConfig() *Config {
	return &Config{
		DictionaryDir: "dictionaries",
		Compression:   "flate",
		FormatVersion: uint8(format.CurrentFormat),
		Budget:        overflow.DefaultBudget,
		RetainedTurns: overflow.DefaultRetainedTurns,
		Debounce:      scheduler.DefaultDebounce,
	}
}

// Load reads a YAML file over DefaultConfig and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes YAML over DefaultConfig and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", errs.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			problems := make([]error, 0, len(verrs))
			for _, fe := range verrs {
				problems = append(problems, fmt.Errorf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			err = errors.Join(problems...)
		}

		return fmt.Errorf("%w: %w", errs.ErrInvalidConfig, err)
	}

	if format.FormatVersion(c.FormatVersion) == format.FormatV1 && c.compressionType() != format.CompressionFlate {
		return fmt.Errorf("%w: format_version 1 requires flate compression, got %s", errs.ErrInvalidConfig, c.Compression)
	}

	return nil
}

func (c *Config) compressionType() format.CompressionType {
	ct, _ := format.ParseCompression(c.Compression)
	return ct
}

// CodecOptions converts the configuration to codec options.
func (c *Config) CodecOptions(logger *slog.Logger) []urlstate.Option {
	return []urlstate.Option{
		urlstate.WithDictionaryVersion(c.DictionaryVersion),
		urlstate.WithCompression(c.compressionType()),
		urlstate.WithFormatVersion(format.FormatVersion(c.FormatVersion)),
		urlstate.WithBudget(c.Budget),
		urlstate.WithRetainedTurns(c.RetainedTurns),
		urlstate.WithLogger(logger),
	}
}

// SchedulerOptions converts the configuration to scheduler options.
func (c *Config) SchedulerOptions() []scheduler.Option {
	return []scheduler.Option{scheduler.WithDebounce(c.Debounce)}
}

// LoadRegistry registers every dictionary file in DictionaryDir.
//
// A file that fails to load does not stop the others; the joined errors are
// returned next to the populated registry.
func (c *Config) LoadRegistry(logger *slog.Logger) (*dictionary.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := dictionary.NewRegistry(dictionary.WithRegistryLogger(logger))
	if err != nil {
		return nil, err
	}

	n, err := dictionary.LoadDir(c.DictionaryDir, reg)
	logger.Info("dictionaries loaded", "dir", c.DictionaryDir, "count", n)

	return reg, err
}

// NewCodec loads the dictionaries and builds a codec for the content pack.
// Rejected dictionary files are logged; the codec works with the rest.
func (c *Config) NewCodec(logger *slog.Logger) (*urlstate.Codec, *dictionary.Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg, err := c.LoadRegistry(logger)
	if reg == nil {
		return nil, nil, err
	}
	if err != nil {
		logger.Warn("some dictionary files were rejected", "error", err)
	}

	codec, err := urlstate.NewCodec(reg, c.ContentPack, c.CodecOptions(logger)...)
	if err != nil {
		return nil, nil, err
	}

	return codec, reg, nil
}
