package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"github.com/pkg/errors"
)

// DefaultMediaUserAgent is a desktop browser agent; the media CDN rejects
// requests without one.
const DefaultMediaUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var config *Config

// Config holds every setting the binaries read. Only this struct must be used
// to hold configuration values, no direct access to env or any other config
// source should be made.
type Config struct {
	AppEnv              string `env:"APP_ENV,default=dev"`
	AppName             string `env:"APP_NAME,default=crm_inbox"`
	AppDebug            bool   `env:"APP_DEBUG,default=false"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR,default=:9100"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI,default=/metrics"`

	HttpListenAddr     string        `env:"HTTP_LISTEN_ADDR,default=:8080"`
	HttpRequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT,default=15s"`

	DBDriver   string `env:"DB_DRIVER,default=postgres"`
	SQLitePath string `env:"SQLITE_PATH,default=crm_inbox.db"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT,default=5432"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT,default=5432"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	PostgresSSLMode string `env:"POSTGRES_SSLMODE,default=disable"`
	// DatabaseURL points both pools at one server and overrides the fields above.
	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX,default=crm:"`

	PromNamespace string `env:"PROM_NAMESPACE,default=crm_inbox"`

	WebhookToken               string        `env:"WEBHOOK_TOKEN"`
	WebhookSignatureSecret     string        `env:"WEBHOOK_SIGNATURE_SECRET"`
	WebhookIPAllowlist         string        `env:"WEBHOOK_IP_ALLOWLIST"`
	WebhookControlName         string        `env:"WEBHOOK_CONTROL_NAME,default=EvolutionWebhook"`
	WebhookControlTTL          time.Duration `env:"WEBHOOK_CONTROL_TTL,default=10s"`
	DeliveryLockTTL            time.Duration `env:"DELIVERY_LOCK_TTL,default=30s"`
	DeadLetterFile             string        `env:"DEAD_LETTER_FILE,default=dead_letters.jsonl"`
	DeadLetterRecoveryInterval time.Duration `env:"DEAD_LETTER_RECOVERY_INTERVAL,default=1m"`

	PipelineDefaultName  string `env:"PIPELINE_DEFAULT_NAME,default=Unassigned"`
	PipelineDefaultStage string `env:"PIPELINE_DEFAULT_STAGE,default=Inbox"`

	EvolutionApiUrl      string        `env:"EVOLUTION_API_URL"`
	EvolutionApiKey      string        `env:"EVOLUTION_API_KEY"`
	EvolutionInstance    string        `env:"EVOLUTION_INSTANCE"`
	EvolutionSendDelayMs int           `env:"EVOLUTION_SEND_DELAY_MS,default=1200"`
	EvolutionTimeout     time.Duration `env:"EVOLUTION_TIMEOUT,default=15s"`
	MediaHost            string        `env:"MEDIA_HOST,default=https://mmg.whatsapp.net"`
	MediaUserAgent       string        `env:"MEDIA_USER_AGENT"`
	DefaultPhoneRegion   string        `env:"DEFAULT_PHONE_REGION,default=MX"`

	FanoutRedisEnabled bool   `env:"FANOUT_REDIS_ENABLED,default=false"`
	AmqpUrl            string `env:"AMQP_URL"`
	AmqpExchange       string `env:"AMQP_EXCHANGE,default=crm.inbox.events"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		if err := godotenv.Load(path); err != nil {
			return errors.Wrap(err, "failed to load configuration file "+path)
		}
	}

	if _, err := env.UnmarshalFromEnviron(c); err != nil {
		return errors.Wrap(err, "failed to map env variables to Configuration object")
	}
	if c.MediaUserAgent == "" {
		c.MediaUserAgent = DefaultMediaUserAgent
	}

	config = c
	return nil
}

// Set replaces the loaded configuration. Tests use it to skip the environment.
func Set(c *Config) {
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

// IPAllowlist splits WEBHOOK_IP_ALLOWLIST on commas, dropping blanks.
func (c *Config) IPAllowlist() []string {
	var out []string
	for _, p := range strings.Split(c.WebhookIPAllowlist, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PostgresRead is the replica endpoint used for list and detail queries.
func (c *Config) PostgresRead() pg.Config {
	return pg.Config{
		User:     c.PostgresReadUser,
		Host:     c.PostgresReadHost,
		Port:     c.PostgresReadPort,
		Password: c.PostgresReadPassword,
		Database: c.PostgresReadDatabase,
		SSLMode:  c.PostgresSSLMode,
		URL:      c.DatabaseURL,
	}
}

func (c *Config) PostgresWrite() pg.Config {
	return pg.Config{
		User:     c.PostgresWriteUser,
		Host:     c.PostgresWriteHost,
		Port:     c.PostgresWritePort,
		Password: c.PostgresWritePassword,
		Database: c.PostgresWriteDatabase,
		SSLMode:  c.PostgresSSLMode,
		URL:      c.DatabaseURL,
	}
}
