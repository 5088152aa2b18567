package database

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/gocql/gocql"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"atelier_back_end/internal/config"
)

// Connections regroupe les clients ouverts au démarrage ; les champs optionnels
// restent nil quand le service correspondant n'est pas configuré.
type Connections struct {
	Scylla   *gocql.Session
	Redis    *redis.Client
	MinIO    *minio.Client
	RabbitMQ *amqp.Connection
}

// Connect ouvre Redis (obligatoire) puis ScyllaDB, MinIO et RabbitMQ s'ils sont configurés.
func Connect(cfg *config.Config) (*Connections, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conns := &Connections{}
	var err error

	if conns.Redis, err = ConnectRedis(ctx, cfg.Redis); err != nil {
		return nil, err
	}

	if cfg.Scylla.Enabled() {
		if conns.Scylla, err = ConnectScylla(cfg.Scylla); err != nil {
			conns.Close()
			return nil, err
		}
		if cfg.Scylla.AutoMigrate {
			if err := Migrate(conns.Scylla); err != nil {
				conns.Close()
				return nil, err
			}
		}
	} else {
		zap.L().Warn("⚠️ ScyllaDB non configuré, stockage en mémoire")
	}

	if cfg.MinIO.Enabled() {
		if conns.MinIO, err = ConnectMinIO(ctx, cfg.MinIO); err != nil {
			conns.Close()
			return nil, err
		}
	}

	if cfg.Notify.Backend == "amqp" {
		if conns.RabbitMQ, err = ConnectRabbitMQ(cfg.RabbitMQ.URL); err != nil {
			conns.Close()
			return nil, err
		}
	}

	zap.L().Info("✅ Toutes les bases de données sont connectées")
	return conns, nil
}

func (c *Connections) Close() {
	if c.Scylla != nil {
		c.Scylla.Close()
		zap.L().Info("🔌 Session ScyllaDB fermée")
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.RabbitMQ != nil {
		_ = c.RabbitMQ.Close()
	}
}

// =============================================
// SCYLLA DB
// =============================================

func ConnectScylla(cfg config.ScyllaConfig) (*gocql.Session, error) {
	cluster, err := createScyllaCluster(cfg)
	if err != nil {
		return nil, fmt.Errorf("erreur configuration cluster pour %s: %w", cfg.Keyspace, err)
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("erreur création session pour %s: %w", cfg.Keyspace, err)
	}
	zap.L().Info("✅ Session ScyllaDB ouverte",
		zap.String("keyspace", cfg.Keyspace),
		zap.String("role", cfg.Username))
	return session, nil
}

func createScyllaCluster(cfg config.ScyllaConfig) (*gocql.ClusterConfig, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.SerialConsistency = gocql.Serial
	cluster.Timeout = 5 * time.Second
	cluster.NumConns = 20
	cluster.MaxWaitSchemaAgreement = 30 * time.Second
	cluster.ReconnectInterval = time.Second
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	if cfg.SSLEnabled {
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CACertPath != "" {
			caCert, err := os.ReadFile(cfg.CACertPath)
			if err != nil {
				return nil, fmt.Errorf("impossible de lire le certificat CA: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return nil, fmt.Errorf("impossible de parser le certificat CA")
			}
			tlsCfg.RootCAs = pool
		}
		cluster.SslOpts = &gocql.SslOptions{Config: tlsCfg, EnableHostVerification: true}
	}

	cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	return cluster, nil
}

// =============================================
// REDIS
// =============================================

func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("REDIS_HOST non configuré")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Host,
		Password:     cfg.Password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("impossible de se connecter à Redis: %w", err)
	}
	zap.L().Info("✅ Connecté à Redis", zap.String("host", cfg.Host))
	return client, nil
}

// =============================================
// MINIO
// =============================================

func ConnectMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erreur connexion MinIO: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("erreur vérification bucket MinIO: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("erreur création bucket MinIO: %w", err)
		}
		zap.L().Info("🪣 Bucket créé", zap.String("bucket", cfg.Bucket))
	}
	zap.L().Info("✅ Connecté à MinIO", zap.String("endpoint", cfg.Endpoint))
	return client, nil
}

// =============================================
// RABBITMQ
// =============================================

func ConnectRabbitMQ(url string) (*amqp.Connection, error) {
	if url == "" {
		return nil, fmt.Errorf("RABBITMQ_URL non configuré")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("erreur connexion RabbitMQ: %w", err)
	}
	zap.L().Info("✅ Connecté à RabbitMQ")
	return conn, nil
}
