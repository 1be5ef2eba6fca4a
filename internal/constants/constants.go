package constants

import "time"

// 订阅等级
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierPro     = "pro"
)

// 付费级别（由等级推导：tier != free 即 paid）
const (
	LevelFree = "free"
	LevelPaid = "paid"
)

// 订阅状态（渠道侧原始状态，这里只列出本服务关心的取值）
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusTrial    = "trial"
	StatusInactive = "inactive"
)

// 渠道标识
const (
	ProviderStripe = "stripe"
	ProviderApple  = "apple"
)

// 批量对账相关常量
const (
	// DefaultBatchSize 默认批量大小
	DefaultBatchSize = 50
	// MaxBatchSize 批量大小上限（无论配置如何都不超过该值）
	MaxBatchSize = 200
	// SampleFixLimit 批量结果中保留的修复样本条数上限
	SampleFixLimit = 10
	// SampleErrorLimit 批量结果中保留的错误样本条数上限
	SampleErrorLimit = 5
	// DefaultProviderTimeout 默认单次渠道调用超时
	DefaultProviderTimeout = 10 * time.Second
	// DefaultBatchDeadline 默认单次批量对账总时间预算
	DefaultBatchDeadline = 5 * time.Minute
)

// 分布式锁相关常量
const (
	// ReconcileLockExpiration 单用户对账写锁过期时间
	ReconcileLockExpiration = 30 * time.Second
	// ReconcileLockRetries 对账写锁重试次数
	ReconcileLockRetries = 1
)

// Redis key
const (
	// UnclassifiedPlanCounterKey 无法归类而兜底为 premium 的套餐计数器
	UnclassifiedPlanCounterKey = "entitlement:unclassified_plans"
)
