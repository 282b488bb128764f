package redemption

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"giftops/pkg/gameapi"
)

var Module = fx.Module("redemption.service",
	fx.Provide(
		NewStats,
		NewEngine,
		NewQueue,
		NewBatchTracker,
		NewWorker,
		func(c *gameapi.Client) GameClient { return c },
	),
	fx.Invoke(migrate),
	fx.Invoke(RegisterHandlers),
)

func migrate(db *gorm.DB) {
	if err := db.AutoMigrate(&RedemptionRun{}); err != nil {
		zap.L().Fatal("failed to migrate redemption tables", zap.Error(err))
	}
}
