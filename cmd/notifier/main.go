// Commande notifier : consomme les voies RabbitMQ des notifications hors du serveur HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"atelier_back_end/internal/app"
	"atelier_back_end/internal/config"
	"atelier_back_end/internal/database"
	"atelier_back_end/internal/logger"
)

func main() {
	log, err := logger.Init(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()
	if cfg.Notify.Backend != "amqp" {
		zap.L().Fatal("❌ Le notifier nécessite NOTIFY_BACKEND=amqp", zap.String("backend", cfg.Notify.Backend))
	}
	if !cfg.Scylla.Enabled() {
		zap.L().Fatal("❌ Le notifier nécessite ScyllaDB pour partager les notifications avec l'API")
	}

	conns, err := database.Connect(cfg)
	if err != nil {
		zap.L().Fatal("❌ Connexion aux bases impossible", zap.Error(err))
	}
	defer conns.Close()

	dispatcher, queue, _, err := app.NewNotifications(cfg, conns)
	if err != nil {
		zap.L().Fatal("❌ Initialisation des notifications impossible", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.StartWorkers(ctx, dispatcher, queue, cfg.Notify.RetryInterval); err != nil {
		zap.L().Fatal("❌ Démarrage des consommateurs impossible", zap.Error(err))
	}
	zap.L().Info("📬 Notifier démarré", zap.Int("lanes", cfg.Notify.Lanes))

	<-ctx.Done()
	if err := queue.Close(); err != nil {
		zap.L().Warn("⚠️ Fermeture de la file", zap.Error(err))
	}
	zap.L().Info("🛑 Notifier arrêté")
}
