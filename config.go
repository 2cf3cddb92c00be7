package featsort

import (
	"reflect"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds configuration settings for a sort
type Config struct {
	MaxInMemory      int         `mapstructure:"max_in_memory"`      // most records held in memory, also the size of every spilled run
	RunBufferSize    int         `mapstructure:"run_buffer_size"`    // records decoded per seek by each run reader during the merge
	TempFilesDir     string      `mapstructure:"temp_dir"`           // empty for the discovered temp directory ex: /tmp
	PreferDiskBacked bool        `mapstructure:"prefer_disk_backed"` // prefer /var/tmp over a possibly memory backed /tmp
	Fs               afero.Fs    `mapstructure:"-"`                  // filesystem holding the spill file
	Logger           *zap.Logger `mapstructure:"-"`
}

// EnvPrefix prefixes the environment variables read by LoadConfig.
const EnvPrefix = "FEATSORT"

// DefaultConfig returns the default configuration options used if none provided
func DefaultConfig() *Config {
	return &Config{
		MaxInMemory:   1000,
		RunBufferSize: 64,
		TempFilesDir:  "",
		Fs:            afero.NewOsFs(),
		Logger:        zap.NewNop(),
	}
}

// mergeConfig returns a copy of c with any values not set replaced by the defaults
func mergeConfig(c *Config) *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	merged := *c
	if merged.MaxInMemory == 0 {
		merged.MaxInMemory = d.MaxInMemory
	}
	if merged.RunBufferSize == 0 {
		merged.RunBufferSize = d.RunBufferSize
	}
	if merged.Fs == nil {
		merged.Fs = d.Fs
	}
	if merged.Logger == nil {
		merged.Logger = d.Logger
	}
	// skipping TempFilesDir as it is the empty string
	return &merged
}

// Validate checks c for values no sort can run with.
func (c *Config) Validate() error {
	if c.MaxInMemory < 0 {
		return &ConfigError{Field: "MaxInMemory", Value: c.MaxInMemory, Reason: "must not be negative"}
	}
	if c.RunBufferSize < 0 {
		return &ConfigError{Field: "RunBufferSize", Value: c.RunBufferSize, Reason: "must not be negative"}
	}
	return nil
}

// NewViper returns a viper instance that resolves every Config key from the
// environment. Keys use the prefix FEATSORT, for example "max_in_memory"
// becomes FEATSORT_MAX_IN_MEMORY.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})
	return v
}

// LoadConfig reads configuration from environment variables on top of the
// defaults.
func LoadConfig() (*Config, error) {
	return ConfigFromViper(NewViper())
}

// ConfigFromViper decodes the keys of v on top of the defaults.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Field: "env", Value: EnvPrefix, Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnvs registers every decodable field of cfg so that viper looks up the
// matching environment variable when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any) {
	typ := reflect.TypeOf(cfg)
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		_ = v.BindEnv(tag)
	}
}
