package giftcode

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("giftcode.service",
	fx.Provide(NewService),
	fx.Invoke(migrate),
)

func migrate(db *gorm.DB) {
	if err := db.AutoMigrate(&GiftCode{}, &MemberRedemption{}); err != nil {
		zap.L().Fatal("failed to migrate giftcode tables", zap.Error(err))
	}
}
