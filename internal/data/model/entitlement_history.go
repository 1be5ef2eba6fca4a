package model

import "time"

// EntitlementHistory 权益变更历史模型
type EntitlementHistory struct {
	ID           uint64    `gorm:"primaryKey;column:entitlement_history_id;autoIncrement"`
	UID          string    `gorm:"column:uid;type:varchar(36);index:idx_uid"`
	Email        string    `gorm:"column:email;type:varchar(255);index:idx_email"`
	OldTier      string    `gorm:"column:old_tier;type:varchar(20)"`
	NewTier      string    `gorm:"column:new_tier;type:varchar(20)"`
	OldStatus    string    `gorm:"column:old_status;type:varchar(50)"`
	NewStatus    string    `gorm:"column:new_status;type:varchar(50)"`
	ProviderUsed string    `gorm:"column:provider_used;type:varchar(20)"` // stripe, apple, preserved, none
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (EntitlementHistory) TableName() string { return "entitlement_history" }
