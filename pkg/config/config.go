// Package config implements loading and saving of the CLI's persistent
// configuration: store locations, default chunking parameters, and the
// log level, in either TOML or YAML, following the same load/save idiom
// the teacher uses for its own configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/chunkarchive/chunkarchive/pkg/chunker"
	"github.com/chunkarchive/chunkarchive/pkg/encoding"
	"github.com/chunkarchive/chunkarchive/pkg/logging"
)

// Chunking holds the subset of chunker.Config that is user-configurable,
// expressed in plain field names suitable for TOML/YAML serialization.
type Chunking struct {
	WindowSize int `toml:"window_size" yaml:"windowSize"`
	MinSize    int `toml:"min_size" yaml:"minSize"`
	MaxSize    int `toml:"max_size" yaml:"maxSize"`
	// AverageSize, if non-zero, derives CutMask; an explicit CutMask (if
	// non-zero) takes precedence.
	AverageSize int    `toml:"average_size" yaml:"averageSize"`
	CutMask     uint32 `toml:"cut_mask" yaml:"cutMask"`
}

// Configuration is the on-disk shape of a chunkarchive configuration file.
type Configuration struct {
	// WritableStore is the filesystem root of the writable chunk store.
	WritableStore string `toml:"writable_store" yaml:"writableStore"`
	// SeedStores is an ordered list of read-only seed store roots,
	// consulted in this order after the writable store on a miss.
	SeedStores []string `toml:"seed_stores" yaml:"seedStores"`
	// LogLevel is one of "disabled", "error", "warn", "info", "debug",
	// "trace" (see pkg/logging.NameToLevel).
	LogLevel string `toml:"log_level" yaml:"logLevel"`
	// Chunking overrides the default content-defined chunking parameters.
	Chunking Chunking `toml:"chunking" yaml:"chunking"`
}

// Default returns the configuration used when no file is present.
func Default() *Configuration {
	def := chunker.DefaultConfig()
	return &Configuration{
		LogLevel: logging.LevelInfo.String(),
		Chunking: Chunking{
			WindowSize:  def.WindowSize,
			MinSize:     def.MinSize,
			MaxSize:     def.MaxSize,
			AverageSize: chunker.DefaultAverageSize,
		},
	}
}

// isYAMLPath reports whether path's extension indicates a YAML document
// rather than TOML.
func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads a configuration file at path, selecting TOML or YAML decoding
// by file extension (defaulting to TOML for an unrecognized or absent
// extension). A missing file is not an error: Default is returned.
func Load(path string) (*Configuration, error) {
	configuration := Default()

	var err error
	if isYAMLPath(path) {
		err = encoding.LoadAndUnmarshalYAML(path, configuration)
	} else {
		err = encoding.LoadAndUnmarshalTOML(path, configuration)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return configuration, nil
		}
		return nil, fmt.Errorf("unable to load configuration: %w", err)
	}
	return configuration, nil
}

// Save writes configuration to path, atomically, selecting TOML or YAML
// encoding by file extension (defaulting to TOML).
func Save(path string, configuration *Configuration, logger *logging.Logger) error {
	if isYAMLPath(path) {
		return encoding.MarshalAndSaveYAML(path, logger, configuration)
	}
	return encoding.MarshalAndSaveTOML(path, logger, configuration)
}

// ChunkerConfig converts the on-disk chunking parameters to a
// chunker.Config, filling in defaults for any zero field and deriving
// CutMask from AverageSize when CutMask itself is unset.
func (c *Configuration) ChunkerConfig() chunker.Config {
	def := chunker.DefaultConfig()
	result := chunker.Config{
		WindowSize: c.Chunking.WindowSize,
		MinSize:    c.Chunking.MinSize,
		MaxSize:    c.Chunking.MaxSize,
		CutMask:    c.Chunking.CutMask,
	}
	if result.WindowSize == 0 {
		result.WindowSize = def.WindowSize
	}
	if result.MinSize == 0 {
		result.MinSize = def.MinSize
	}
	if result.MaxSize == 0 {
		result.MaxSize = def.MaxSize
	}
	if result.CutMask == 0 {
		if c.Chunking.AverageSize > 0 {
			bits := 0
			for (1 << uint(bits+1)) <= c.Chunking.AverageSize {
				bits++
			}
			result.CutMask = (uint32(1) << uint(bits)) - 1
		} else {
			result.CutMask = def.CutMask
		}
	}
	return result
}

// LoadDotEnv loads environment variables from a .env file at path, if
// present, so that CLI contexts can override configuration fields (e.g.
// CHUNKARCHIVE_LOG_LEVEL) without a config file. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("unable to load environment file: %w", err)
	}
	return nil
}

// ApplyEnvironmentOverrides overlays recognized CHUNKARCHIVE_* environment
// variables onto configuration, matching the teacher's pattern of letting
// environment variables win over file-based configuration in CLI contexts.
func ApplyEnvironmentOverrides(configuration *Configuration) {
	if v := os.Getenv("CHUNKARCHIVE_WRITABLE_STORE"); v != "" {
		configuration.WritableStore = v
	}
	if v := os.Getenv("CHUNKARCHIVE_LOG_LEVEL"); v != "" {
		configuration.LogLevel = v
	}
}
