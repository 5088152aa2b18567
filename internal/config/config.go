package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Port        string
	GinMode     string
	LogMode     string
	CORSOrigins []string
	JWTSecret   string

	Scylla   ScyllaConfig
	Redis    RedisConfig
	MinIO    MinIOConfig
	RabbitMQ RabbitMQConfig
	Payment  PaymentConfig
	SMTP     SMTPConfig
	Notify   NotifyConfig
	Company  CompanyConfig

	// Nombre de requêtes autorisées par fenêtre et par client.
	RateLimit       int
	RateLimitWindow time.Duration
}

type ScyllaConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	SSLEnabled  bool
	CACertPath  string
	AutoMigrate bool
}

func (c ScyllaConfig) Enabled() bool { return len(c.Hosts) > 0 && c.Keyspace != "" }

type RedisConfig struct {
	Host     string
	Password string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c MinIOConfig) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

type RabbitMQConfig struct {
	URL    string
	Prefix string
}

type PaymentConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	IntentTimeout       time.Duration
}

// Validate refuse une clé Stripe sans secret de webhook : les callbacks ne pourraient
// pas être authentifiés.
func (c PaymentConfig) Validate() error {
	if c.StripeSecretKey != "" && c.StripeWebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET requis quand STRIPE_SECRET_KEY est défini")
	}
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type NotifyConfig struct {
	// Backend : "memory" (voies en mémoire) ou "amqp" (RabbitMQ).
	Backend       string
	Lanes         int
	RetryInterval time.Duration
	AdminEmail    string
}

type CompanyConfig struct {
	Name string
	IBAN string
	BIC  string
}

// Load charge le .env s'il existe puis lit l'environnement via viper.
func Load() *Config {
	if err := godotenv.Load(".env"); err != nil {
		zap.L().Info("⚠️ Aucun fichier .env trouvé, on continue avec les variables d'environnement du système")
	} else {
		zap.L().Info("✅ Fichier .env chargé avec succès")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	return FromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("LOG_MODE", "production")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("SCYLLA_KEYSPACE", "atelier_orders")
	v.SetDefault("SCYLLA_AUTO_MIGRATE", false)
	v.SetDefault("MINIO_BUCKET", "payment-proofs")
	v.SetDefault("RABBITMQ_PREFIX", "notifications")
	v.SetDefault("PAYMENT_INTENT_TIMEOUT", "10s")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("NOTIFY_BACKEND", "memory")
	v.SetDefault("NOTIFY_LANES", 8)
	v.SetDefault("NOTIFY_RETRY_INTERVAL", "30s")
	v.SetDefault("RATE_LIMIT", 120)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		Port:        v.GetString("PORT"),
		GinMode:     v.GetString("GIN_MODE"),
		LogMode:     v.GetString("LOG_MODE"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		JWTSecret:   v.GetString("JWT_SECRET"),
		Scylla: ScyllaConfig{
			Hosts:       splitList(v.GetString("SCYLLA_HOSTS")),
			Keyspace:    v.GetString("SCYLLA_KEYSPACE"),
			Username:    v.GetString("SCYLLA_ROLE"),
			Password:    v.GetString("SCYLLA_PASSWORD"),
			SSLEnabled:  v.GetBool("SCYLLA_SSL_ENABLED"),
			CACertPath:  v.GetString("SCYLLA_SSL_CA_PATH"),
			AutoMigrate: v.GetBool("SCYLLA_AUTO_MIGRATE"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		MinIO: MinIOConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:    v.GetString("RABBITMQ_URL"),
			Prefix: v.GetString("RABBITMQ_PREFIX"),
		},
		Payment: PaymentConfig{
			StripeSecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			StripeWebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
			IntentTimeout:       v.GetDuration("PAYMENT_INTENT_TIMEOUT"),
		},
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
		},
		Notify: NotifyConfig{
			Backend:       strings.ToLower(v.GetString("NOTIFY_BACKEND")),
			Lanes:         v.GetInt("NOTIFY_LANES"),
			RetryInterval: v.GetDuration("NOTIFY_RETRY_INTERVAL"),
			AdminEmail:    v.GetString("ADMIN_NOTIFY_EMAIL"),
		},
		Company: CompanyConfig{
			Name: v.GetString("COMPANY_NAME"),
			IBAN: v.GetString("COMPANY_IBAN"),
			BIC:  v.GetString("COMPANY_BIC"),
		},
		RateLimit:       v.GetInt("RATE_LIMIT"),
		RateLimitWindow: v.GetDuration("RATE_LIMIT_WINDOW"),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
