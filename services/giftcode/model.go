package giftcode

import "time"

// ValidationStatus is the global validity of a code. Transitions only move
// pending→validated or pending|validated→invalid; once invalid a code is
// never auto-reverted.
type ValidationStatus string

const (
	StatusPending   ValidationStatus = "pending"
	StatusValidated ValidationStatus = "validated"
	StatusInvalid   ValidationStatus = "invalid"
)

func (s ValidationStatus) String() string { return string(s) }

type GiftCode struct {
	Code             string           `gorm:"column:code;primaryKey" json:"code"`
	ValidationStatus ValidationStatus `gorm:"column:validation_status;type:varchar(20);default:'pending';index" json:"validation_status"`
	CreatedAt        time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"column:updated_at" json:"updated_at"`
	InvalidatedAt    *time.Time       `gorm:"column:invalidated_at;index" json:"invalidated_at,omitempty"`
}

func (GiftCode) TableName() string { return "gift_codes" }

// MemberRedemption is one cached terminal outcome for a (member, code)
// pair. Rows are written once and never updated to a non-terminal value;
// they are deleted only when the owning code is invalidated together with
// a specific member's record, or by retention cleanup.
type MemberRedemption struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	FID       string    `gorm:"column:fid;not null;uniqueIndex:idx_fid_code" json:"fid"`
	Code      string    `gorm:"column:code;not null;uniqueIndex:idx_fid_code;index" json:"code"`
	Status    string    `gorm:"column:status;type:varchar(40);not null" json:"status"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (MemberRedemption) TableName() string { return "member_redemptions" }
