package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	Certification CertificationConfig `yaml:"certification" mapstructure:"certification"`
	Expiry        ExpiryConfig        `yaml:"expiry" mapstructure:"expiry"`
	Notify        NotifyConfig        `yaml:"notify" mapstructure:"notify"`
	Documents     DocumentsConfig     `yaml:"documents" mapstructure:"documents"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CertificationConfig is the raw weight and threshold table. It is turned
// into an immutable catalog.Catalog (and validated) at startup.
type CertificationConfig struct {
	Types             []TypeConfig       `yaml:"types" mapstructure:"types"`
	ProductMetrics    map[string]float64 `yaml:"product_metrics" mapstructure:"product_metrics"`
	Tiers             []TierConfig       `yaml:"tiers" mapstructure:"tiers"`
	BaseTier          string             `yaml:"base_tier" mapstructure:"base_tier"`
	ValidityMonths    int                `yaml:"validity_months" mapstructure:"validity_months"`
	ExpiringSoonDays  int                `yaml:"expiring_soon_days" mapstructure:"expiring_soon_days"`
	ApprovalThreshold int                `yaml:"approval_threshold" mapstructure:"approval_threshold"`
}

// TypeConfig holds one certification type's aggregate weight and metric table.
type TypeConfig struct {
	Name    string             `yaml:"name" mapstructure:"name"`
	Weight  float64            `yaml:"weight" mapstructure:"weight"`
	Metrics map[string]float64 `yaml:"metrics" mapstructure:"metrics"`
}

// TierConfig maps a minimum aggregate score to a tier label.
type TierConfig struct {
	Label    string `yaml:"label" mapstructure:"label"`
	MinScore int    `yaml:"min_score" mapstructure:"min_score"`
}

// ExpiryConfig configures the periodic expiry sweep.
type ExpiryConfig struct {
	IntervalSecs int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	OwnersPerSec float64 `yaml:"owners_per_sec" mapstructure:"owners_per_sec"`
}

// NotifyConfig configures notification dispatch.
type NotifyConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	AMQPURL       string `yaml:"amqp_url" mapstructure:"amqp_url"`
	Queue         string `yaml:"queue" mapstructure:"queue"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	AppBaseURL    string `yaml:"app_base_url" mapstructure:"app_base_url"`

	// BreakerThreshold consecutive publish failures open the breaker for
	// BreakerResetSecs; notifications are dropped (and logged) meanwhile.
	BreakerThreshold int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// DocumentsConfig configures evidence file storage.
type DocumentsConfig struct {
	Driver        string `yaml:"driver" mapstructure:"driver"`
	Dir           string `yaml:"dir" mapstructure:"dir"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	Region        string `yaml:"region" mapstructure:"region"`
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	Prefix        string `yaml:"prefix" mapstructure:"prefix"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGENMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "regenmark.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 20)
	v.SetDefault("expiry.interval_secs", 3600)
	v.SetDefault("expiry.concurrency", 4)
	v.SetDefault("expiry.owners_per_sec", 50)
	v.SetDefault("notify.driver", "log")
	v.SetDefault("notify.queue", "regenmark.notifications")
	v.SetDefault("notify.retry_attempts", 3)
	v.SetDefault("notify.breaker_threshold", 5)
	v.SetDefault("notify.breaker_reset_secs", 30)
	v.SetDefault("documents.driver", "file")
	v.SetDefault("documents.dir", "documents")
	v.SetDefault("documents.prefix", "evidence/")

	d := DefaultCertification()
	types := make([]map[string]any, 0, len(d.Types))
	for _, t := range d.Types {
		types = append(types, map[string]any{"name": t.Name, "weight": t.Weight, "metrics": t.Metrics})
	}
	tiers := make([]map[string]any, 0, len(d.Tiers))
	for _, t := range d.Tiers {
		tiers = append(tiers, map[string]any{"label": t.Label, "min_score": t.MinScore})
	}
	v.SetDefault("certification.types", types)
	v.SetDefault("certification.product_metrics", d.ProductMetrics)
	v.SetDefault("certification.tiers", tiers)
	v.SetDefault("certification.base_tier", d.BaseTier)
	v.SetDefault("certification.validity_months", d.ValidityMonths)
	v.SetDefault("certification.expiring_soon_days", d.ExpiringSoonDays)
	v.SetDefault("certification.approval_threshold", d.ApprovalThreshold)
}

// DefaultCertification returns the stock weight and tier tables. Type
// weights sum to 1; every metric table sums to 1.
func DefaultCertification() CertificationConfig {
	return CertificationConfig{
		Types: []TypeConfig{
			{Name: "CARBON_SAVER", Weight: 0.25, Metrics: map[string]float64{
				"co2Reduction": 0.6, "energyEfficiency": 0.3, "renewableEnergy": 0.1,
			}},
			{Name: "WATER_GUARDIAN", Weight: 0.20, Metrics: map[string]float64{
				"waterSaving": 0.6, "waterQuality": 0.25, "wastewaterTreatment": 0.15,
			}},
			{Name: "HUMAN_FIRST", Weight: 0.20, Metrics: map[string]float64{
				"fairWages": 0.4, "workerSafety": 0.35, "communityImpact": 0.25,
			}},
			{Name: "HUMANE_HERO", Weight: 0.15, Metrics: map[string]float64{
				"animalWelfare": 0.5, "crueltyFree": 0.3, "habitatProtection": 0.2,
			}},
			{Name: "CIRCULAR_CHAMPION", Weight: 0.20, Metrics: map[string]float64{
				"recyclability": 0.4, "wasteReduction": 0.35, "repairability": 0.25,
			}},
		},
		ProductMetrics: map[string]float64{
			"co2Reduction": 0.4, "waterSaving": 0.3, "energyEfficiency": 0.3,
		},
		Tiers: []TierConfig{
			{Label: "BRONZE", MinScore: 40},
			{Label: "SILVER", MinScore: 60},
			{Label: "GOLD", MinScore: 75},
			{Label: "PLATINUM", MinScore: 90},
		},
		BaseTier:          "NONE",
		ValidityMonths:    12,
		ExpiringSoonDays:  30,
		ApprovalThreshold: 60,
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "migrate":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxUploadMB <= 0 {
			errs = append(errs, "server.max_upload_mb must be > 0")
		}
		errs = append(errs, c.validateNotify()...)
		errs = append(errs, c.validateDocuments()...)
		errs = append(errs, c.validateExpiry()...)
	case "sweep":
		errs = append(errs, c.validateNotify()...)
		errs = append(errs, c.validateExpiry()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateNotify() []string {
	var errs []string
	switch c.Notify.Driver {
	case "log":
	case "amqp":
		if c.Notify.AMQPURL == "" {
			errs = append(errs, "notify.amqp_url is required for the amqp driver")
		}
		if c.Notify.Queue == "" {
			errs = append(errs, "notify.queue is required for the amqp driver")
		}
	default:
		errs = append(errs, "notify.driver must be log or amqp")
	}
	return errs
}

func (c *Config) validateDocuments() []string {
	var errs []string
	switch c.Documents.Driver {
	case "file":
		if c.Documents.Dir == "" {
			errs = append(errs, "documents.dir is required for the file driver")
		}
	case "s3":
		if c.Documents.Bucket == "" {
			errs = append(errs, "documents.bucket is required for the s3 driver")
		}
	default:
		errs = append(errs, "documents.driver must be file or s3")
	}
	return errs
}

func (c *Config) validateExpiry() []string {
	var errs []string
	if c.Expiry.Concurrency < 1 || c.Expiry.Concurrency > 64 {
		errs = append(errs, "expiry.concurrency must be between 1 and 64")
	}
	if c.Expiry.IntervalSecs <= 0 {
		errs = append(errs, "expiry.interval_secs must be > 0")
	}
	if c.Expiry.OwnersPerSec < 0 {
		errs = append(errs, "expiry.owners_per_sec must be >= 0")
	}
	return errs
}
