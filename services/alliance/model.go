package alliance

import "time"

// Alliance is one organizational group of member identities managed by the
// engine.
type Alliance struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	AutoRedeem bool      `gorm:"column:auto_redeem;default:false" json:"auto_redeem"`
	Priority   int       `gorm:"column:priority;default:0;index" json:"priority"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Alliance) TableName() string { return "alliances" }

// Member is one player identity inside an alliance. Position preserves the
// roster order redemption runs walk through.
type Member struct {
	ID         string    `gorm:"column:id;primaryKey" json:"id"`
	AllianceID string    `gorm:"column:alliance_id;index;not null;uniqueIndex:idx_alliance_fid" json:"alliance_id"`
	FID        string    `gorm:"column:fid;not null;uniqueIndex:idx_alliance_fid" json:"fid"`
	Nickname   string    `gorm:"column:nickname" json:"nickname"`
	Position   int       `gorm:"column:position;default:0" json:"position"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Member) TableName() string { return "alliance_members" }
