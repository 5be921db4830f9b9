package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "ORDERSVC_"

type Config struct {
	App struct {
		Name     string `koanf:"name"`
		URL      string `koanf:"url"` // storefront base for checkout redirects
		LogLevel string `koanf:"log_level"`
		LogFile  string `koanf:"log_file"`
	} `koanf:"app"`

	HTTP struct {
		Addr         string        `koanf:"addr"`
		Prefix       string        `koanf:"prefix"`
		ReadTimeout  time.Duration `koanf:"read_timeout"`
		WriteTimeout time.Duration `koanf:"write_timeout"`
		IdleTimeout  time.Duration `koanf:"idle_timeout"`
		OpTimeout    time.Duration `koanf:"op_timeout"`
	} `koanf:"http"`

	GRPC struct {
		HealthAddr string `koanf:"health_addr"`
	} `koanf:"grpc"`

	Database struct {
		DSN      string `koanf:"dsn"`
		MaxConns int32  `koanf:"max_conns"`
		Migrate  bool   `koanf:"migrate"`
	} `koanf:"database"`

	Stripe struct {
		SecretKey     string `koanf:"secret_key"`
		WebhookSecret string `koanf:"webhook_secret"`
	} `koanf:"stripe"`

	Kafka struct {
		Brokers  []string `koanf:"brokers"`
		ClientID string   `koanf:"client_id"`
	} `koanf:"kafka"`

	Redis struct {
		Addr      string        `koanf:"addr"`
		Password  string        `koanf:"password"`
		DB        int           `koanf:"db"`
		ReplayTTL time.Duration `koanf:"replay_ttl"`
	} `koanf:"redis"`

	Consul struct {
		Addr        string `koanf:"addr"`
		ServiceName string `koanf:"service_name"`
		ServiceHost string `koanf:"service_host"`
		ServicePort int    `koanf:"service_port"`
	} `koanf:"consul"`

	Security struct {
		JWTSecret string `koanf:"jwt_secret"`
		Issuer    string `koanf:"issuer"`
	} `koanf:"security"`
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":            "order-service",
		"app.log_level":       "info",
		"app.log_file":        "./logs/order-service.log",
		"http.addr":           ":8084",
		"http.read_timeout":   "10s",
		"http.write_timeout":  "10s",
		"http.idle_timeout":   "60s",
		"http.op_timeout":     "5s",
		"database.max_conns":  10,
		"database.migrate":    true,
		"kafka.client_id":     "order-service",
		"redis.replay_ttl":    "72h",
		"consul.service_name": "orders",
		"security.issuer":     "print-store",
	}
}

// Load reads, in increasing priority: built-in defaults, <dir>/base.yaml, <dir>/<envName>.yaml,
// then ORDERSVC_ variables (ORDERSVC_DATABASE__DSN sets database.dsn). A .env file in the
// working directory is loaded into the process environment first when present.
func Load(dir, envName string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	for key, v := range defaults() {
		if err := k.Set(key, v); err != nil {
			return Config{}, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	for _, name := range []string{"base.yaml", envName + ".yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTP.Addr == "" {
		errs = append(errs, fmt.Errorf("http.addr required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, fmt.Errorf("database.dsn required"))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, fmt.Errorf("stripe.secret_key required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, fmt.Errorf("stripe.webhook_secret required"))
	}
	if _, err := url.ParseRequestURI(c.App.URL); err != nil {
		errs = append(errs, fmt.Errorf("app.url must be an absolute url"))
	}
	if c.Security.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("security.jwt_secret required"))
	}
	if c.HTTP.OpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http.op_timeout must be positive"))
	}
	return errors.Join(errs...)
}
