// Package app assemble les composants à partir de la configuration et des connexions
// ouvertes au démarrage.
package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"atelier_back_end/internal/cache"
	"atelier_back_end/internal/chat"
	"atelier_back_end/internal/config"
	"atelier_back_end/internal/database"
	"atelier_back_end/internal/handlers"
	"atelier_back_end/internal/notifications"
	"atelier_back_end/internal/orders"
	"atelier_back_end/internal/payment"
	"atelier_back_end/internal/repository/memory"
	"atelier_back_end/internal/repository/scylla"
	"atelier_back_end/internal/utils"
	"atelier_back_end/internal/workflow"
)

const (
	laneBuffer           = 256
	defaultRetryInterval = 30 * time.Second
)

type App struct {
	Orders     *orders.Machine
	OrderStore orders.Store
	Approval   *workflow.Approval
	Payments   *payment.Adapter
	Dispatcher *notifications.Dispatcher
	Queue      notifications.Queue
	Pusher     *notifications.RedisPusher
	Chat       *chat.Service
	Auditor    *utils.AsyncAuditor
	Limiter    *cache.RateLimiter
}

// NewNotifications construit la file et le dispatcher selon NOTIFY_BACKEND.
func NewNotifications(cfg *config.Config, conns *database.Connections) (*notifications.Dispatcher, notifications.Queue, *notifications.RedisPusher, error) {
	var store notifications.Store
	if conns.Scylla != nil {
		store = scylla.NewNotificationRepository(conns.Scylla)
	} else {
		store = memory.NewNotificationRepository()
	}

	var queue notifications.Queue
	switch cfg.Notify.Backend {
	case "amqp":
		if conns.RabbitMQ == nil {
			return nil, nil, nil, errors.New("NOTIFY_BACKEND=amqp sans connexion RabbitMQ")
		}
		q, err := notifications.NewAMQPQueue(conns.RabbitMQ, cfg.RabbitMQ.Prefix, cfg.Notify.Lanes)
		if err != nil {
			return nil, nil, nil, err
		}
		queue = q
	default:
		queue = notifications.NewLaneQueue(cfg.Notify.Lanes, laneBuffer)
	}

	pusher := notifications.NewRedisPusher(conns.Redis)
	opts := []notifications.Option{notifications.WithPusher(pusher)}

	smtp := utils.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}
	if smtp.Configured() {
		opts = append(opts, notifications.WithMailer(utils.NewMailer(smtp), cfg.Notify.AdminEmail))
	} else {
		zap.L().Warn("⚠️ SMTP non configuré, pas d'e-mail de notification")
	}

	d := notifications.NewDispatcher(store, cache.NewUnreadCounter(conns.Redis), queue, opts...)
	return d, queue, pusher, nil
}

// NewAuditor écrit dans ScyllaDB si disponible, sinon dans les logs.
func NewAuditor(conns *database.Connections) *utils.AsyncAuditor {
	if conns.Scylla != nil {
		return utils.NewAsyncAuditor(scylla.NewAuditRepository(conns.Scylla))
	}
	return utils.NewAsyncAuditor(utils.LogSink{})
}

func New(cfg *config.Config, conns *database.Connections) (*App, error) {
	dispatcher, queue, pusher, err := NewNotifications(cfg, conns)
	if err != nil {
		return nil, err
	}
	auditor := NewAuditor(conns)

	var (
		orderStore orders.Store
		chatStore  chat.Store
	)
	if conns.Scylla != nil {
		orderStore = scylla.NewOrderRepository(conns.Scylla)
		chatStore = scylla.NewChatRepository(conns.Scylla)
	} else {
		orderStore = memory.NewOrderRepository()
		chatStore = memory.NewChatRepository()
	}

	machine := orders.NewMachine(orderStore, dispatcher, orders.WithAuditor(auditor))

	var gateway payment.Gateway
	if cfg.Payment.StripeSecretKey != "" {
		gateway = payment.NewStripeGateway(cfg.Payment.StripeSecretKey)
		zap.L().Info("✅ Stripe initialisé")
	} else {
		gateway = unconfiguredGateway{}
		zap.L().Warn("⚠️ STRIPE_SECRET_KEY manquant, paiement en ligne désactivé")
	}

	payOpts := []payment.Option{payment.WithAuditor(auditor)}
	if conns.MinIO != nil {
		payOpts = append(payOpts, payment.WithProofStore(payment.NewMinioProofStore(conns.MinIO, cfg.MinIO.Bucket)))
	}
	adapter := payment.NewAdapter(gateway, payment.NewRedisIntentStore(conns.Redis), machine, orderStore, payment.Config{
		WebhookSecret: cfg.Payment.StripeWebhookSecret,
		IntentTimeout: cfg.Payment.IntentTimeout,
		Beneficiary: utils.Beneficiary{
			Name: cfg.Company.Name,
			IBAN: cfg.Company.IBAN,
			BIC:  cfg.Company.BIC,
		},
	}, payOpts...)

	var limiter *cache.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = cache.NewRateLimiter(conns.Redis, cfg.RateLimit, cfg.RateLimitWindow)
	}

	return &App{
		Orders:     machine,
		OrderStore: orderStore,
		Approval:   workflow.NewApproval(machine),
		Payments:   adapter,
		Dispatcher: dispatcher,
		Queue:      queue,
		Pusher:     pusher,
		Chat:       chat.NewService(chatStore, machine, dispatcher),
		Auditor:    auditor,
		Limiter:    limiter,
	}, nil
}

func (a *App) Handler() *handlers.Handler {
	return handlers.New(handlers.Deps{
		Orders:        a.Orders,
		Approval:      a.Approval,
		Payments:      a.Payments,
		Notifications: a.Dispatcher,
		Chat:          a.Chat,
		Push:          a.Pusher,
	})
}

// StartWorkers lance les consommateurs de la file et le balayage des publications
// échouées jusqu'à l'annulation de ctx.
func StartWorkers(ctx context.Context, d *notifications.Dispatcher, q notifications.Queue, retry time.Duration) error {
	if retry <= 0 {
		retry = defaultRetryInterval
	}
	if err := q.Consume(ctx, d.Deliver); err != nil {
		return err
	}
	go d.Run(ctx, retry)
	zap.L().Info("📬 Consommateurs de notifications démarrés", zap.Duration("retry_interval", retry))
	return nil
}

type unconfiguredGateway struct{}

func (unconfiguredGateway) CreateIntent(context.Context, payment.IntentRequest) (*payment.RemoteIntent, error) {
	return nil, errors.New("passerelle de paiement non configurée")
}
