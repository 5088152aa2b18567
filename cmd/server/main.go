package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atelier_back_end/internal/app"
	"atelier_back_end/internal/config"
	"atelier_back_end/internal/database"
	"atelier_back_end/internal/logger"
	"atelier_back_end/internal/routes"
)

func main() {
	log, err := logger.Init(os.Getenv("LOG_MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg := config.Load()
	if cfg.JWTSecret == "" {
		zap.L().Fatal("❌ JWT_SECRET manquant")
	}
	if err := cfg.Payment.Validate(); err != nil {
		zap.L().Fatal("❌ Configuration paiement invalide", zap.Error(err))
	}
	gin.SetMode(cfg.GinMode)

	conns, err := database.Connect(cfg)
	if err != nil {
		zap.L().Fatal("❌ Connexion aux bases impossible", zap.Error(err))
	}
	defer conns.Close()

	a, err := app.New(cfg, conns)
	if err != nil {
		zap.L().Fatal("❌ Initialisation impossible", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.StartWorkers(ctx, a.Dispatcher, a.Queue, cfg.Notify.RetryInterval); err != nil {
		zap.L().Fatal("❌ Démarrage des consommateurs impossible", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, a.Handler(), routes.Options{
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
		Limiter:     a.Limiter,
		Auditor:     a.Auditor,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.L().Info("🚀 Serveur lancé", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("❌ Serveur HTTP arrêté", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zap.L().Info("🛑 Arrêt demandé")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("❌ Arrêt du serveur HTTP", zap.Error(err))
	}

	// Les voies en mémoire finissent les notifications déjà publiées
	if err := a.Queue.Close(); err != nil {
		zap.L().Warn("⚠️ Fermeture de la file", zap.Error(err))
	}
	if n := a.Dispatcher.Pending(); n > 0 {
		zap.L().Warn("⚠️ Notifications non publiées à l'arrêt", zap.Int("pending", n))
	}
}
