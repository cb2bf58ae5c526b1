package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

const DefaultRoomCleanSeconds = 120

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	// IdleTimeout comes from room_clean_duration, in whole seconds.
	IdleTimeout        time.Duration `mapstructure:"-"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`

	ICEServers             []string      `mapstructure:"ice_servers"`
	ICEDisconnectedTimeout time.Duration `mapstructure:"ice_disconnected_timeout"`
	ICEFailedTimeout       time.Duration `mapstructure:"ice_failed_timeout"`
	ICEKeepaliveInterval   time.Duration `mapstructure:"ice_keepalive_interval"`

	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	OfferLimit  int           `mapstructure:"offer_limit"`
	OfferWindow time.Duration `mapstructure:"offer_window"`
}

var envKeys = map[string]string{
	"port":                "RPC_PORT",
	"room_clean_duration": "ROOM_CLEAN_DURATION",
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range envKeys {
		if err := v.BindEnv(key, name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.IdleTimeout = idleTimeout(v.Get("room_clean_duration"))
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{defaultICEServer}
	}

	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Dur("idle_timeout", cfg.IdleTimeout).
		Dur("sweep_interval", cfg.SweepInterval).
		Strs("ice_servers", cfg.ICEServers).
		Msg("config ready")
	return &cfg, nil
}

const defaultICEServer = "stun:stun.l.google.com:19302"

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "openrooms")
	v.SetDefault("log_level", "info")
	v.SetDefault("room_clean_duration", DefaultRoomCleanSeconds)
	v.SetDefault("sweep_interval", "60s")
	v.SetDefault("negotiation_timeout", "10s")
	v.SetDefault("ice_servers", []string{defaultICEServer})
	v.SetDefault("ice_disconnected_timeout", "5s")
	v.SetDefault("ice_failed_timeout", "25s")
	v.SetDefault("ice_keepalive_interval", "2s")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("offer_limit", 10)
	v.SetDefault("offer_window", "10s")
}

// idleTimeout falls back to the default when the value is unset, unparsable or not positive.
func idleTimeout(raw any) time.Duration {
	secs, err := cast.ToIntE(raw)
	if err != nil || secs <= 0 {
		if raw != nil {
			log.Warn().Str("module", "config").Interface("value", raw).Msg("invalid room_clean_duration, using default")
		}
		secs = DefaultRoomCleanSeconds
	}
	return time.Duration(secs) * time.Second
}
