package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/shield/internal/archive"
	"github.com/sells-group/shield/internal/auth"
	"github.com/sells-group/shield/internal/lock"
	"github.com/sells-group/shield/internal/model"
	"github.com/sells-group/shield/internal/resilience"
	"github.com/sells-group/shield/internal/transfer"
)

// Validation modes.
const (
	ModeServe = "serve"
	ModeCLI   = "cli"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig         `yaml:"store" mapstructure:"store"`
	Log        LogConfig           `yaml:"log" mapstructure:"log"`
	Server     ServerConfig        `yaml:"server" mapstructure:"server"`
	Program    model.ProgramParams `yaml:"program" mapstructure:"program"`
	Features   model.FeatureFlags  `yaml:"features" mapstructure:"features"`
	Auth       AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Reputation ReputationConfig    `yaml:"reputation" mapstructure:"reputation"`
	Transfer   TransferConfig      `yaml:"transfer" mapstructure:"transfer"`
	Lock       LockConfig          `yaml:"lock" mapstructure:"lock"`
	Archive    ArchiveConfig       `yaml:"archive" mapstructure:"archive"`
	Monitoring MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
	Retry      RetryConfig         `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend. For sqlite DatabaseURL is a
// file path.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	RateLimit       float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst" mapstructure:"rate_burst"`
	CORSOrigins     []string      `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AuthConfig selects the caller authentication provider and role map.
type AuthConfig struct {
	Mode            string        `yaml:"mode" mapstructure:"mode"`
	Secret          string        `yaml:"secret" mapstructure:"secret"`
	ChallengeMaxAge time.Duration `yaml:"challenge_max_age" mapstructure:"challenge_max_age"`
	// Identity is the admin identity the CLI and the background checker act as.
	Identity string     `yaml:"identity" mapstructure:"identity"`
	Roles    auth.Roles `yaml:"roles" mapstructure:"roles"`
	// AllowTrusted lets serve run with trusted auth, where the caller names
	// its own identity. Only for a server bound to a private network.
	AllowTrusted bool `yaml:"allow_trusted" mapstructure:"allow_trusted"`
}

// ReputationConfig configures the Ethos client.
type ReputationConfig struct {
	EthosURL  string  `yaml:"ethos_url" mapstructure:"ethos_url"`
	APIKey    string  `yaml:"api_key" mapstructure:"api_key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// TransferConfig selects the transfer facility.
type TransferConfig struct {
	Driver  string          `yaml:"driver" mapstructure:"driver"`
	Gateway transfer.Config `yaml:"gateway" mapstructure:"gateway"`
}

// LockConfig selects the state locker.
type LockConfig struct {
	Driver string           `yaml:"driver" mapstructure:"driver"`
	Redis  lock.RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// ArchiveConfig selects where terminal records are archived.
type ArchiveConfig struct {
	Driver string           `yaml:"driver" mapstructure:"driver"`
	Dir    string           `yaml:"dir" mapstructure:"dir"`
	S3     archive.S3Config `yaml:"s3" mapstructure:"s3"`
}

// MonitoringConfig configures solvency alerts and the background sweep.
type MonitoringConfig struct {
	Enabled            bool   `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs  int    `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL         string `yaml:"webhook_url" mapstructure:"webhook_url"`
	ArbitrationBacklog int    `yaml:"arbitration_backlog" mapstructure:"arbitration_backlog"`
	Sweep              bool   `yaml:"sweep" mapstructure:"sweep"`
}

// RetryConfig is the default retry and breaker policy for outbound HTTP.
type RetryConfig struct {
	Policy  resilience.RetryConfig   `yaml:"policy" mapstructure:"policy"`
	Breaker resilience.BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "shield.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("auth.mode", "trusted")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.allow_trusted", false)
	v.SetDefault("auth.challenge_max_age", "5m")
	v.SetDefault("auth.identity", "admin")
	v.SetDefault("auth.roles.admins", []string{"admin"})
	v.SetDefault("reputation.ethos_url", "https://api.ethos.network")
	v.SetDefault("reputation.api_key", "")
	v.SetDefault("reputation.rate_limit", 10)
	v.SetDefault("transfer.driver", "book")
	v.SetDefault("transfer.gateway.url", "")
	v.SetDefault("transfer.gateway.api_key", "")
	v.SetDefault("transfer.gateway.timeout", "10s")
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.redis.addr", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.ttl", "30s")
	v.SetDefault("lock.redis.poll", "25ms")
	v.SetDefault("archive.driver", "nop")
	v.SetDefault("archive.dir", "archive")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "shield")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.arbitration_backlog", 10)
	v.SetDefault("monitoring.sweep", true)
	v.SetDefault("retry.policy.attempts", 3)
	v.SetDefault("retry.policy.backoff", "200ms")
	v.SetDefault("retry.policy.max_delay", "5s")
	v.SetDefault("retry.policy.jitter", 0.2)
	v.SetDefault("retry.breaker.threshold", 5)
	v.SetDefault("retry.breaker.cooldown", "30s")
	setProgramDefaults(v)

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

func setProgramDefaults(v *viper.Viper) {
	p := model.DefaultProgramParams()
	v.SetDefault("program.base_reserve_ratio", p.BaseReserveRatio)
	v.SetDefault("program.target_reserve_ratio", p.TargetReserveRatio)
	v.SetDefault("program.min_coverage", p.MinCoverage)
	v.SetDefault("program.max_coverage", p.MaxCoverage)
	v.SetDefault("program.min_period_days", p.MinPeriodDays)
	v.SetDefault("program.max_period_days", p.MaxPeriodDays)
	v.SetDefault("program.grace_period_days", p.GracePeriodDays)
	v.SetDefault("program.claim_period_days", p.ClaimPeriodDays)
	v.SetDefault("program.risk_buffer_percentage", p.RiskBufferPercentage)
	v.SetDefault("program.arbitration_threshold", p.ArbitrationThreshold)
	v.SetDefault("program.auto_claim_limit", p.AutoClaimLimit)
	v.SetDefault("program.auto_process_threshold", p.AutoProcessThreshold)
	v.SetDefault("program.min_votes_required", p.MinVotesRequired)
	v.SetDefault("program.voting_period_days", p.VotingPeriodDays)
	v.SetDefault("program.dispute_window_days", p.DisputeWindowDays)
	v.SetDefault("program.base_premium_rate", p.BasePremiumRate)
	v.SetDefault("program.risk_curve_exponent", p.RiskCurveExponent)
	v.SetDefault("program.reputation_impact_weight", p.ReputationImpactWeight)
	v.SetDefault("program.claims_history_impact_weight", p.ClaimsHistoryImpactWeight)
	v.SetDefault("program.market_volatility_weight", p.MarketVolatilityWeight)
	v.SetDefault("program.job_type_weights", p.JobTypeWeights[:])
	v.SetDefault("program.industry_weights", p.IndustryWeights[:])
	v.SetDefault("program.max_auto_approve", p.MaxAutoApprove)
	v.SetDefault("program.staking_allocation", p.StakingAllocation)
	v.SetDefault("program.treasury_allocation", p.TreasuryAllocation)
}

// Validate reports every configuration problem for mode at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, fmt.Sprintf("store.database_url is required for %s", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.MaxConns > 0 && c.Store.MinConns > c.Store.MaxConns {
		errs = append(errs, "store.min_conns must be <= store.max_conns")
	}

	switch mode {
	case ModeCLI:
	case ModeServe:
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be between 1 and 65535")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server.rate_limit must be >= 0")
		}
		errs = append(errs, c.validateCollaborators()...)
	default:
		errs = append(errs, fmt.Sprintf("unknown mode %q", mode))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateCollaborators() []string {
	var errs []string

	switch c.AuthMode() {
	case "trusted":
		if !c.Auth.AllowTrusted {
			errs = append(errs, "auth.mode trusted accepts any caller; use wallet or session, or set auth.allow_trusted")
		}
	case "wallet":
	case "session":
		if c.Auth.Secret == "" {
			errs = append(errs, "auth.secret is required for session auth")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.mode %q must be trusted, wallet or session", c.Auth.Mode))
	}

	switch c.Transfer.Driver {
	case "book":
	case "gateway":
		if c.Transfer.Gateway.URL == "" {
			errs = append(errs, "transfer.gateway.url is required for the gateway driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("transfer.driver %q must be book or gateway", c.Transfer.Driver))
	}

	switch c.Lock.Driver {
	case "local":
	case "redis":
		if c.Lock.Redis.Addr == "" {
			errs = append(errs, "lock.redis.addr is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("lock.driver %q must be local or redis", c.Lock.Driver))
	}

	switch c.Archive.Driver {
	case "nop":
	case "fs":
		if c.Archive.Dir == "" {
			errs = append(errs, "archive.dir is required for the fs driver")
		}
	case "s3":
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, "archive.s3.bucket is required for the s3 driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("archive.driver %q must be nop, fs or s3", c.Archive.Driver))
	}

	if c.Monitoring.Enabled && c.Monitoring.Sweep && c.Auth.Identity == "" {
		errs = append(errs, "auth.identity is required for the monitoring sweep")
	}
	return errs
}

// AuthMode returns the effective authentication mode. The session feature
// flag wins over auth.mode.
func (c *Config) AuthMode() string {
	if c.Features.UseSessionAuth {
		return "session"
	}
	return c.Auth.Mode
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
