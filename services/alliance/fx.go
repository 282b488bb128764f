package alliance

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("alliance.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) {
	if err := db.AutoMigrate(&Alliance{}, &Member{}); err != nil {
		zap.L().Fatal("failed to migrate alliance tables", zap.Error(err))
	}
}
