package config

import "github.com/spf13/viper"

type Config struct {
	ServerPort    string `mapstructure:"SERVER_PORT"`
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	JWTSecret     string `mapstructure:"JWT_SECRET"`
	AccessToken   string `mapstructure:"ACCESS_TOKEN"`
	Device        string `mapstructure:"DEVICE_PROFILE"`
	AppVersion    string `mapstructure:"APP_VERSION"`
	RingCapacity  int    `mapstructure:"RING_CAPACITY"`
	RingMaxAgeSec int    `mapstructure:"RING_MAX_AGE_SEC"`
}

func Load() Config {
	viper.AutomaticEnv()
	viper.SetDefault("SERVER_PORT", ":8080")
	viper.SetDefault("POSTGRES_URL", "")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "dev-secret-change-me")
	viper.SetDefault("ACCESS_TOKEN", "")
	viper.SetDefault("DEVICE_PROFILE", "unknown")
	viper.SetDefault("APP_VERSION", "dev")
	viper.SetDefault("RING_CAPACITY", 20)
	viper.SetDefault("RING_MAX_AGE_SEC", 20)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}
