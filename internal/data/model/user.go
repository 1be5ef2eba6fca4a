package model

import "time"

// User 用户模型（仅包含权益相关字段）
type User struct {
	UID              string    `gorm:"primaryKey;column:uid;type:varchar(36)"`
	Email            string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex:uk_email"` // 归一化邮箱（小写去空白）
	Tier             string    `gorm:"column:tier;type:varchar(20);default:'free'"`                  // free, premium, pro
	Level            string    `gorm:"column:level;type:varchar(10);default:'free'"`                 // free, paid（由 tier 推导）
	Status           string    `gorm:"column:status;type:varchar(50)"`                               // 渠道侧原始状态字符串
	StripeCustomerID string    `gorm:"column:stripe_customer_id;type:varchar(64);index:idx_stripe_customer_id"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string { return "user" }
