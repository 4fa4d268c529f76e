package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mohammedhisham1/Stock-Price-Alerting/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig        `mapstructure:"app"`
	Logging     logging.Config   `mapstructure:"logging"`
	Database    DatabaseConfig   `mapstructure:"database"`
	Market      MarketConfig     `mapstructure:"market"`
	Scheduler   SchedulerConfig  `mapstructure:"scheduler"`
	Notify      NotifyConfig     `mapstructure:"notify"`
	Retention   RetentionConfig  `mapstructure:"retention"`
	Export      ExportConfig     `mapstructure:"export"`
	Instruments []InstrumentSeed `mapstructure:"instruments"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// MarketConfig covers the external price source and its quota.
type MarketConfig struct {
	BaseURL          string            `mapstructure:"base_url"`
	APIKey           string            `mapstructure:"api_key"`
	RequestTimeout   time.Duration     `mapstructure:"request_timeout"`
	UserAgent        string            `mapstructure:"user_agent"`
	QuotaPerMinute   int               `mapstructure:"quota_per_minute"`
	QuotaPolicy      string            `mapstructure:"quota_policy"`
	RejectionCeiling int               `mapstructure:"rejection_ceiling"`
	Hours            MarketHoursConfig `mapstructure:"hours"`
}

// MarketHoursConfig gates fetching on the exchange session.
type MarketHoursConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
	Open     string `mapstructure:"open"`
	Close    string `mapstructure:"close"`
}

// SchedulerConfig governs the cycle cadences.
type SchedulerConfig struct {
	PriceInterval     time.Duration `mapstructure:"price_interval"`
	AlertInterval     time.Duration `mapstructure:"alert_interval"`
	RetentionInterval time.Duration `mapstructure:"retention_interval"`
	AlignToInterval   bool          `mapstructure:"align_to_interval"`
	StartupDelay      time.Duration `mapstructure:"startup_delay"`
	CycleTimeout      time.Duration `mapstructure:"cycle_timeout"`
	OnDemandTimeout   time.Duration `mapstructure:"on_demand_timeout"`
	FetchWorkers      int           `mapstructure:"fetch_workers"`
	PriceLockKey      int64         `mapstructure:"price_lock_key"`
	AlertLockKey      int64         `mapstructure:"alert_lock_key"`
}

// NotifyConfig defines notification routing.
type NotifyConfig struct {
	Enabled bool       `mapstructure:"enabled"`
	SMTP    SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig carries email delivery settings.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// RetentionConfig bounds how long history is kept.
type RetentionConfig struct {
	PriceWindow   time.Duration `mapstructure:"price_window"`
	TriggerWindow time.Duration `mapstructure:"trigger_window"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// InstrumentSeed is one instrument upserted at startup.
type InstrumentSeed struct {
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Exchange string `mapstructure:"exchange"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("market.base_url", "https://api.twelvedata.com")
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.user_agent", "stockwatcher/1.0")
	v.SetDefault("market.quota_per_minute", 8)
	v.SetDefault("market.quota_policy", "block")
	v.SetDefault("market.rejection_ceiling", 5)
	v.SetDefault("market.hours.enabled", true)
	v.SetDefault("market.hours.timezone", "America/New_York")
	v.SetDefault("market.hours.open", "09:30")
	v.SetDefault("market.hours.close", "16:00")

	v.SetDefault("scheduler.price_interval", "30m")
	v.SetDefault("scheduler.alert_interval", "5m")
	v.SetDefault("scheduler.retention_interval", "24h")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.cycle_timeout", "4m")
	v.SetDefault("scheduler.on_demand_timeout", "30s")
	v.SetDefault("scheduler.fetch_workers", 4)
	v.SetDefault("scheduler.price_lock_key", int64(0x73746f01))
	v.SetDefault("scheduler.alert_lock_key", int64(0x73746f02))

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.smtp.port", 465)

	v.SetDefault("retention.price_window", "720h")
	v.SetDefault("retention.trigger_window", "720h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Market.QuotaPerMinute <= 0 {
		return fmt.Errorf("market.quota_per_minute must be greater than zero")
	}
	if c.Market.QuotaPolicy != "block" && c.Market.QuotaPolicy != "reject" {
		return fmt.Errorf("market.quota_policy must be \"block\" or \"reject\"")
	}
	if c.Scheduler.PriceInterval <= 0 {
		return fmt.Errorf("scheduler.price_interval must be greater than zero")
	}
	if c.Scheduler.AlertInterval <= 0 {
		return fmt.Errorf("scheduler.alert_interval must be greater than zero")
	}
	if c.Scheduler.RetentionInterval <= 0 {
		return fmt.Errorf("scheduler.retention_interval must be greater than zero")
	}
	if c.Scheduler.FetchWorkers <= 0 {
		return fmt.Errorf("scheduler.fetch_workers must be greater than zero")
	}
	if c.Retention.PriceWindow <= 0 || c.Retention.TriggerWindow <= 0 {
		return fmt.Errorf("retention windows must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Notify.Enabled {
		if c.Notify.SMTP.Host == "" {
			return fmt.Errorf("notify.smtp.host is required when notifications are enabled")
		}
		if c.Notify.SMTP.Username == "" || c.Notify.SMTP.Password == "" {
			return fmt.Errorf("notify.smtp credentials are required when notifications are enabled")
		}
	}
	for _, seed := range c.Instruments {
		if seed.Symbol == "" {
			return fmt.Errorf("instruments entries require a symbol")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
