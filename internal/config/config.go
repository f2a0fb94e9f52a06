package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var (
	ErrConfigNotLoaded = errors.New("config not loaded")
)

type Environment string

const (
	Production  Environment = "prod"
	Development Environment = "dev"
)

func (e *Environment) SetValue(s string) error {
	*e = Environment(s)
	if *e != Production && *e != Development {
		return configNotLoadedErr(`only "prod" and "dev" environments are allowed`)
	}
	return nil
}

type Config struct {
	App struct {
		Env  Environment `yaml:"env" env:"ENV" env-required:""`
		Name string      `yaml:"name" env:"NAME" env-default:"healthlog"`
	} `yaml:"app" env-prefix:"APP_" env-required:""`

	Server struct {
		Host            string        `yaml:"host" env:"HOST" env-default:"localhost"`
		Port            int           `yaml:"port" env:"PORT" env-default:"8080"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"5s"`
	} `yaml:"server" env-prefix:"SERVER_"`

	DB struct {
		DSN             string        `yaml:"dsn" env:"DSN" env-required:""`
		MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" env-default:"20"`
		MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" env-default:"5"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" env-default:"30m"`
		MigrateOnStart  bool          `yaml:"migrate_on_start" env:"MIGRATE_ON_START" env-default:"true"`
	} `yaml:"db" env-prefix:"DB_" env-required:""`

	Mongo struct {
		URI        string        `yaml:"uri" env:"URI" env-required:""`
		Database   string        `yaml:"database" env:"DATABASE" env-default:"healthlog"`
		Collection string        `yaml:"collection" env:"COLLECTION" env-default:"weights"`
		Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT" env-default:"10s"`
	} `yaml:"mongo" env-prefix:"MONGO_" env-required:""`

	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB" env-default:"0"`
	} `yaml:"redis" env-prefix:"REDIS_"`

	RateLimit RateLimit `yaml:"rate_limit" env-prefix:"RATE_LIMIT_"`

	AMQP struct {
		URL      string `yaml:"url" env:"URL"`
		Exchange string `yaml:"exchange" env:"EXCHANGE" env-default:"healthlog.events"`
	} `yaml:"amqp" env-prefix:"AMQP_"`

	JWT struct {
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"2h"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"24h"`
		Secret          string        `yaml:"secret" env:"SECRET" env-required:""`
	} `yaml:"jwt" env-prefix:"JWT_" env-required:""`

	Admin struct {
		Login    string `yaml:"login" env:"LOGIN"`
		Password string `yaml:"password" env:"PASSWORD"`
	} `yaml:"admin" env-prefix:"ADMIN_"`
}

// RateLimit configures the token bucket kept in redis.
type RateLimit struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED" env-default:"false"`
	Capacity       int           `yaml:"capacity" env:"CAPACITY" env-default:"60"`
	RefillTokens   int           `yaml:"refill_tokens" env:"REFILL_TOKENS" env-default:"1"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"REFILL_INTERVAL" env-default:"1s"`
	TTL            time.Duration `yaml:"ttl" env:"TTL" env-default:"10m"`
	Prefix         string        `yaml:"prefix" env:"PREFIX" env-default:"rl"`
}

func (c *Config) Validate() error {
	if c.App.Env != Production && c.App.Env != Development {
		return configNotLoadedErr("unknown environment %q", c.App.Env)
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return configNotLoadedErr("jwt.access_token_ttl must be positive")
	}
	if c.RateLimit.Enabled && c.Redis.Addr == "" {
		return configNotLoadedErr("rate_limit requires redis.addr")
	}
	if (c.Admin.Login == "") != (c.Admin.Password == "") {
		return configNotLoadedErr("admin.login and admin.password must be set together")
	}
	return nil
}

func Load(filePath string) (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadConfig(filePath, cfg); err != nil {
		return nil, configNotLoadedErr("config not loaded: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func MustLoad(filePath string) *Config {
	cfg, err := Load(filePath)
	if err != nil {
		panic(err)
	}
	return cfg
}

func configNotLoadedErr(format string, args ...any) error {
	return errors.Join(fmt.Errorf(format, args...), ErrConfigNotLoaded)
}
