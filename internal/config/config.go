package config

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Billing    BillingConfig
	Alerting   AlertingConfig
	Reconciler ReconcilerConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	URL string
}

type BillingConfig struct {
	Enabled        bool
	ReservationTTL time.Duration
}

type AlertingConfig struct {
	Enabled      bool
	PollInterval time.Duration
	Queues       []string

	QueueMaxDepth      int64
	DepthWarningPct    float64
	DepthCriticalPct   float64
	WaitTimeWarning    time.Duration
	WaitTimeCritical   time.Duration
	FailureRateWarning float64
	FailureRateCrit    float64
	ProcTimeWarning    time.Duration
	ProcTimeCritical   time.Duration

	FailureRateWindow time.Duration
	MinSamples        int
	WindowSize        int
	HistorySize       int
	AlertCooldown     time.Duration

	SlackWebhookURL string
	WebhookURL      string
}

type ReconcilerConfig struct {
	PollInterval   time.Duration
	StallThreshold time.Duration
	RecoveryBuffer time.Duration
	BatchSize      int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("redis.url", "redis://localhost:6379")
	viper.SetDefault("billing.enabled", true)
	viper.SetDefault("billing.reservationttl", "5m")
	viper.SetDefault("alerting.enabled", true)
	viper.SetDefault("alerting.pollinterval", "60s")
	viper.SetDefault("alerting.queues", []string{"browser-tests", "load-tests", "scheduled-checks"})
	viper.SetDefault("alerting.queuemaxdepth", 10000)
	viper.SetDefault("alerting.depthwarningpct", 70)
	viper.SetDefault("alerting.depthcriticalpct", 90)
	viper.SetDefault("alerting.waittimewarning", "5m")
	viper.SetDefault("alerting.waittimecritical", "15m")
	viper.SetDefault("alerting.failureratewarning", 10)
	viper.SetDefault("alerting.failureratecrit", 25)
	viper.SetDefault("alerting.proctimewarning", "2m")
	viper.SetDefault("alerting.proctimecritical", "5m")
	viper.SetDefault("alerting.failureratewindow", "15m")
	viper.SetDefault("alerting.minsamples", 5)
	viper.SetDefault("alerting.windowsize", 30)
	viper.SetDefault("alerting.historysize", 100)
	viper.SetDefault("alerting.alertcooldown", "15m")
	viper.SetDefault("reconciler.pollinterval", "60s")
	viper.SetDefault("reconciler.stallthreshold", "30m")
	viper.SetDefault("reconciler.recoverybuffer", "15m")
	viper.SetDefault("reconciler.batchsize", 1000)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("SLACK_WEBHOOK_URL"); url != "" {
		cfg.Alerting.SlackWebhookURL = url
	}
	if url := os.Getenv("ALERT_WEBHOOK_URL"); url != "" {
		cfg.Alerting.WebhookURL = url
	}

	return &cfg, nil
}
