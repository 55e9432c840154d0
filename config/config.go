// webdl/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	YtdlpBin        string        `mapstructure:"YTDLP_BIN"`
	YtdlpArgs       string        `mapstructure:"YTDLP_ARGS"`
	ProbeTimeout    time.Duration `mapstructure:"PROBE_TIMEOUT"`
	DownloadTimeout time.Duration `mapstructure:"DOWNLOAD_TIMEOUT"`
	WorkRoot        string        `mapstructure:"WORK_ROOT"`
	AudioCodec      string        `mapstructure:"AUDIO_CODEC"`
	AudioQuality    string        `mapstructure:"AUDIO_QUALITY"`
	MaxConcurrency  int           `mapstructure:"MAX_CONCURRENCY"` // 0 means unbounded
	EventBuffer     int           `mapstructure:"EVENT_BUFFER"`
	HealthCPU       float64       `mapstructure:"HEALTH_CPU"`
	HealthFreeMem   int64         `mapstructure:"HEALTH_FREEMEM"`
	HealthFreeDisk  int64         `mapstructure:"HEALTH_FREEDISK"`
	AuthEnable      bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey         string        `mapstructure:"AUTH_KEY"`
}

// stringToDurationHookFunc parses Go duration strings such as "1m30s".
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable sizes such as "200MB".
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		if err := size.UnmarshalText([]byte(data.(string))); err != nil {
			// Not a size string, let the default decoder try.
			return data, nil
		}
		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("YTDLP_BIN", "yt-dlp")
	vp.SetDefault("YTDLP_ARGS", "")
	vp.SetDefault("PROBE_TIMEOUT", "1m")
	vp.SetDefault("DOWNLOAD_TIMEOUT", "0s")
	vp.SetDefault("WORK_ROOT", "")
	vp.SetDefault("AUDIO_CODEC", "mp3")
	vp.SetDefault("AUDIO_QUALITY", "192K")
	vp.SetDefault("MAX_CONCURRENCY", 0)
	vp.SetDefault("EVENT_BUFFER", 16)
	vp.SetDefault("HEALTH_CPU", 50.0)
	vp.SetDefault("HEALTH_FREEMEM", "200MB")
	vp.SetDefault("HEALTH_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")

	vp.SetConfigName("webdl_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/webdl/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("WEBDL")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	// The listen port is also taken from a plain PORT, as most hosting platforms set it.
	if err := vp.BindEnv("PORT", "WEBDL_PORT", "PORT"); err != nil {
		return nil, err
	}

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
