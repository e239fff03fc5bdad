// Package config provides configuration loading for Faida Offline Core.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/faidahq/faida-offline/internal/errors"
	"github.com/faidahq/faida-offline/internal/models"
)

// ServerConfig describes the upstream Faida server.
type ServerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AuthPathPrefix string `mapstructure:"auth_path_prefix"`
	APIPrefix      string `mapstructure:"api_prefix"`
	StatusPath     string `mapstructure:"status_path"`
}

// EndpointsConfig maps each operation kind to its submission path,
// relative to the server base URL.
type EndpointsConfig struct {
	Sales          string `mapstructure:"sales"`
	StockPurchases string `mapstructure:"stock_purchases"`
	CashOutflows   string `mapstructure:"cash_outflows"`
}

// PathFor returns the submission path for an operation kind.
func (e EndpointsConfig) PathFor(kind models.OperationKind) (string, bool) {
	switch kind {
	case models.KindSale:
		return e.Sales, true
	case models.KindStockPurchase:
		return e.StockPurchases, true
	case models.KindCashOutflow:
		return e.CashOutflows, true
	}
	return "", false
}

// GatewayConfig configures the local request gateway.
type GatewayConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	StaticPrefixes []string `mapstructure:"static_prefixes"`
}

// FormRoutesConfig maps each operation kind to the page form path whose
// POST is intercepted while offline.
type FormRoutesConfig struct {
	Sales          string `mapstructure:"sales"`
	StockPurchases string `mapstructure:"stock_purchases"`
	CashOutflows   string `mapstructure:"cash_outflows"`
}

// Map returns the form path to operation kind mapping the gateway uses to
// decide which POSTs to intercept.
func (f FormRoutesConfig) Map() map[string]models.OperationKind {
	return map[string]models.OperationKind{
		f.Sales:          models.KindSale,
		f.StockPurchases: models.KindStockPurchase,
		f.CashOutflows:   models.KindCashOutflow,
	}
}

// MonitorConfig configures the connectivity monitor.
type MonitorConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// SchedulerConfig configures the drain scheduler's poll fallback.
type SchedulerConfig struct {
	PollEnabled  bool          `mapstructure:"poll_enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
}

// Config is the root configuration for the offline core.
type Config struct {
	DataDir    string           `mapstructure:"data_dir"`
	Server     ServerConfig     `mapstructure:"server"`
	Endpoints  EndpointsConfig  `mapstructure:"endpoints"`
	FormRoutes FormRoutesConfig `mapstructure:"form_routes"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("server.base_url", "http://localhost:5000")
	v.SetDefault("server.auth_path_prefix", "/auth/login")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.status_path", "/api/v1/sync/status")
	v.SetDefault("endpoints.sales", "/api/v1/sales")
	v.SetDefault("endpoints.stock_purchases", "/api/v1/stock-purchases")
	v.SetDefault("endpoints.cash_outflows", "/api/v1/cash-outflows")
	v.SetDefault("form_routes.sales", "/vente_stock")
	v.SetDefault("form_routes.stock_purchases", "/achat_stock")
	v.SetDefault("form_routes.cash_outflows", "/enregistrer_sortie")
	v.SetDefault("gateway.listen_addr", "127.0.0.1:8788")
	v.SetDefault("gateway.static_prefixes", []string{"/static/"})
	v.SetDefault("monitor.probe_interval", 30*time.Second)
	v.SetDefault("monitor.probe_timeout", 5*time.Second)
	v.SetDefault("scheduler.poll_enabled", true)
	v.SetDefault("scheduler.poll_interval", time.Minute)
	v.SetDefault("scheduler.poll_attempts", 5)
}

// Load reads configuration from faida-offline.yaml in the given directory
// (or the working directory when dir is empty), with FAIDA_* environment
// variables overriding file values. Missing file is not an error; defaults
// apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("faida-offline")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("FAIDA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to unmarshal config", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required fields are present and coherent.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return apperrors.New(apperrors.ErrConfig, "server.base_url is required")
	}
	if !strings.HasPrefix(c.Server.AuthPathPrefix, "/") {
		return apperrors.New(apperrors.ErrConfig, "server.auth_path_prefix must start with /")
	}
	for _, kind := range []models.OperationKind{models.KindSale, models.KindStockPurchase, models.KindCashOutflow} {
		path, ok := c.Endpoints.PathFor(kind)
		if !ok || path == "" {
			return apperrors.New(apperrors.ErrConfig, "endpoint path missing for kind "+string(kind))
		}
	}
	if c.Monitor.ProbeInterval <= 0 {
		return apperrors.New(apperrors.ErrConfig, "monitor.probe_interval must be positive")
	}
	return nil
}
