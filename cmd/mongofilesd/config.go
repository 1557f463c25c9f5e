package main

import (
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/randilt/mongofiles"
)

// Config holds the daemon settings. Every key can be set in the config
// file, as a flag, or as a MONGOFILES_ environment variable.
type Config struct {
	ListenAddr string        `mapstructure:"listen"`
	MongoURL   string        `mapstructure:"mongo-url"`
	Database   string        `mapstructure:"database"`
	StagingDir string        `mapstructure:"staging-dir"`
	Debug      bool          `mapstructure:"debug"`
	LogFile    string        `mapstructure:"log-file"`
	MaxClients int           `mapstructure:"max-clients"`
	IDFormat   string        `mapstructure:"id-format"`
	SweepAge   time.Duration `mapstructure:"sweep-age"`
	Buckets    []BucketEntry `mapstructure:"buckets"`
}

// BucketEntry configures one served bucket.
type BucketEntry struct {
	Name      string `mapstructure:"name"`
	Chunked   *bool  `mapstructure:"chunked"`
	FileField string `mapstructure:"file-field"`
}

// Kind returns the storage strategy for the bucket; chunked unless
// explicitly disabled.
func (b BucketEntry) Kind() mongofiles.StrategyKind {
	if b.Chunked != nil && !*b.Chunked {
		return mongofiles.KindDocument
	}
	return mongofiles.KindChunked
}

const envPrefix = "MONGOFILES"

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":9000")
	v.SetDefault("mongo-url", "mongodb://localhost:27017")
	v.SetDefault("database", "files")
	v.SetDefault("staging-dir", mongofiles.DefaultStagingDir())
	v.SetDefault("debug", false)
	v.SetDefault("log-file", "")
	v.SetDefault("max-clients", 1024)
	v.SetDefault("id-format", "uuid")
	v.SetDefault("sweep-age", 24*time.Hour)
}

// bindFlags registers the command line flags and binds them to v.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	flags.String("listen", ":9000", "HTTP server address")
	flags.String("mongo-url", "mongodb://localhost:27017", "MongoDB connection URL")
	flags.String("database", "files", "MongoDB database holding the buckets")
	flags.String("staging-dir", mongofiles.DefaultStagingDir(), "Directory for in-flight uploads")
	flags.Bool("debug", false, "Enable debug logging")
	flags.String("log-file", "", "Also write logs to this file, rotated")
	flags.Int("max-clients", 1024, "Maximum concurrent requests")
	flags.String("id-format", "uuid", "Upload identifier format: uuid or random")
	flags.Duration("sweep-age", 24*time.Hour, "Remove staged files older than this at startup; 0 disables")
	return v.BindPFlags(flags)
}

// loadConfig reads the settings from v, and from configFile when given.
func loadConfig(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "reading config file %q", configFile)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Annotate(err, "decoding config")
	}
	if len(config.Buckets) == 0 {
		config.Buckets = []BucketEntry{{Name: mongofiles.DefaultBucketName}}
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &config, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.MongoURL == "" {
		return errors.NotValidf("empty mongo-url")
	}
	if c.Database == "" {
		return errors.NotValidf("empty database")
	}
	if c.MaxClients <= 0 {
		return errors.NotValidf("max-clients %d", c.MaxClients)
	}
	if _, err := c.idGenerator(); err != nil {
		return errors.Trace(err)
	}
	seen := make(map[string]bool)
	for _, b := range c.Buckets {
		if b.Name == "" {
			return errors.NotValidf("bucket without a name")
		}
		if seen[b.Name] {
			return errors.NotValidf("bucket %q listed twice", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

func (c *Config) idGenerator() (mongofiles.IDGenerator, error) {
	switch c.IDFormat {
	case "", "uuid":
		return mongofiles.UUIDGenerator, nil
	case "random":
		return mongofiles.RandomIDGenerator, nil
	}
	return nil, errors.NotValidf("id-format %q", c.IDFormat)
}
