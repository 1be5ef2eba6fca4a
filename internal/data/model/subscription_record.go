package model

import "time"

// SubscriptionRecord 渠道订阅镜像模型
// 按 provider + provider_subscription_id 唯一，从不删除（取消是状态迁移）
type SubscriptionRecord struct {
	ID                     uint64    `gorm:"primaryKey;column:subscription_record_id;autoIncrement"`
	UserEmail              string    `gorm:"column:user_email;type:varchar(255);not null;index:idx_email_provider"`
	Provider               string    `gorm:"column:provider;type:varchar(20);not null;index:idx_email_provider;uniqueIndex:uk_provider_sub"` // stripe, apple
	ProviderSubscriptionID string    `gorm:"column:provider_subscription_id;type:varchar(128);not null;uniqueIndex:uk_provider_sub"`
	Tier                   string    `gorm:"column:tier;type:varchar(20)"`
	Status                 string    `gorm:"column:status;type:varchar(50)"`
	PeriodStart            time.Time `gorm:"column:period_start"`
	PeriodEnd              time.Time `gorm:"column:period_end"`
	CancelAtPeriodEnd      bool      `gorm:"column:cancel_at_period_end;default:false"`
	StripeCustomerID       string    `gorm:"column:stripe_customer_id;type:varchar(64)"`
	CreatedAt              time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SubscriptionRecord) TableName() string { return "subscription_record" }
