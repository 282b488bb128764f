package main

import (
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"giftops/internal/httpapi"
	"giftops/internal/server"
	giftasynq "giftops/pkg/asynq"
	"giftops/pkg/captcha"
	"giftops/pkg/config"
	"giftops/pkg/db"
	"giftops/pkg/gameapi"
	"giftops/pkg/gen"
	"giftops/pkg/hashistack/secretmanager"
	"giftops/pkg/health"
	"giftops/pkg/logger"
	"giftops/pkg/minio"
	"giftops/pkg/progress"
	"giftops/pkg/redis"
	"giftops/services/alliance"
	"giftops/services/giftcode"
	"giftops/services/redemption"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		minio.Client,
		giftasynq.Client,
		giftasynq.Server,
		gameapi.Module,
		captcha.Module,
		progress.Module,
		health.Module,
		alliance.Module,
		giftcode.Module,
		redemption.Module,
		redemption.SchedulerModule,
		httpapi.Module,
		server.Module,
		fx.Provide(
			provideRegistry,
			provideRegisterer,
		),
		fxLogger,
	}

	// Secrets come from Vault only when the environment points at one.
	if os.Getenv("VAULT_ADDR") != "" {
		opts = append([]fx.Option{secretmanager.Module}, opts...)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideRegisterer(r *prometheus.Registry) prometheus.Registerer {
	return r
}
