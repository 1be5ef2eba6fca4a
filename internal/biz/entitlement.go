package biz

import (
	"context"
	"strings"
	"time"

	"xinyuan_tech/entitlement-service/internal/constants"
)

// UserEntitlement 用户权益快照（用户表中与权益相关的字段子集）
type UserEntitlement struct {
	UID              string
	Email            string
	Tier             Tier
	Level            string
	Status           string
	StripeCustomerID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ObservationSource 本次对账最终采信的来源
type ObservationSource string

const (
	SourceStripe    ObservationSource = "stripe"
	SourceApple     ObservationSource = "apple"
	SourcePreserved ObservationSource = "preserved"
	SourceNone      ObservationSource = "none"
)

// ProviderObservation 单个渠道的本次观测结果（临时值，不落库，每次对账重新计算）
// CustomerID 记录本次查询发现的渠道客户ID：即使订阅不活跃甚至不存在
// （此时 Tier/Status 为空），发现的客户ID也要参与归并，保证其单调不丢失。
type ProviderObservation struct {
	Tier       Tier
	Status     string
	CustomerID string
	Source     ObservationSource
}

// ReconcileResult 一次对账的裁决结果（值对象，返回后不再修改）
type ReconcileResult struct {
	FinalTier        Tier
	FinalLevel       string
	FinalStatus      string
	StripeCustomerID string
	ProviderUsed     ObservationSource
	Changed          bool
}

// IsActiveStatus 判断渠道状态是否计为"付费中"
// 该谓词是两个渠道共用的唯一判定标准，大小写不敏感。
func IsActiveStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case constants.StatusActive, constants.StatusTrialing, constants.StatusTrial:
		return true
	}
	return false
}

// WasEverPaid 判断缓存状态是否带有任何"曾经付费"的历史信号
// 故意从宽（宁可误判为曾付费）：短暂保留一个已失效的订阅，代价远低于
// 因渠道查询抖动而错误降级一个活跃付费用户。
func WasEverPaid(cached *UserEntitlement) bool {
	if cached == nil {
		return false
	}
	if cached.Level == constants.LevelPaid {
		return true
	}
	if cached.Tier == TierPremium || cached.Tier == TierPro {
		return true
	}
	return IsActiveStatus(cached.Status)
}

// NormalizeEmail 归一化邮箱（小写去空白），所有边界统一使用
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Reconcile 权益裁决核心：合并缓存状态与零到两个渠道观测，计算权威权益。
// 纯函数、确定性、全函数——相同输入永远得到相同输出，这是幂等和批量
// 重跑安全的前提。渠道查询失败由调用方以 nil 观测传入，本函数不产生错误。
//
// 裁决顺序：
//  1. 双渠道均活跃：按等级优先级比较，>= 时 Stripe 胜出
//     （平局偏向 Stripe 是有意为之的记录源策略，勿"修正"为对称规则）；
//  2. 仅 Stripe 活跃：Stripe 胜出；
//  3. 仅 Apple 活跃：Apple 胜出；
//  4. 均不活跃：若曾经付费则原样保留缓存的等级/状态（降级保护：渠道
//     查询失败或渠道暂时不可达，绝不能悄悄把付费用户降为 free）；
//     否则置为 free/inactive。
func Reconcile(cached *UserEntitlement, stripeObs, appleObs *ProviderObservation, wasEverPaid bool) *ReconcileResult {
	stripeActive := stripeObs != nil && IsActiveStatus(stripeObs.Status)
	appleActive := appleObs != nil && IsActiveStatus(appleObs.Status)

	var (
		finalTier   Tier
		finalStatus string
		used        ObservationSource
	)

	switch {
	case stripeActive && appleActive:
		if stripeObs.Tier.Priority() >= appleObs.Tier.Priority() {
			finalTier, finalStatus, used = stripeObs.Tier, stripeObs.Status, SourceStripe
		} else {
			finalTier, finalStatus, used = appleObs.Tier, appleObs.Status, SourceApple
		}
	case stripeActive:
		finalTier, finalStatus, used = stripeObs.Tier, stripeObs.Status, SourceStripe
	case appleActive:
		finalTier, finalStatus, used = appleObs.Tier, appleObs.Status, SourceApple
	default:
		if wasEverPaid {
			finalTier, finalStatus, used = cached.Tier, cached.Status, SourcePreserved
		} else {
			finalTier, finalStatus, used = TierFree, constants.StatusInactive, SourceNone
		}
	}

	// 客户ID取本次查询发现的值，否则回落到缓存值，永不清空
	customerID := cached.StripeCustomerID
	if stripeObs != nil && stripeObs.CustomerID != "" {
		customerID = stripeObs.CustomerID
	} else if appleObs != nil && appleObs.CustomerID != "" {
		customerID = appleObs.CustomerID
	}

	finalLevel := finalTier.Level()

	changed := finalTier != cached.Tier ||
		finalLevel != cached.Level ||
		finalStatus != cached.Status ||
		(cached.StripeCustomerID == "" && customerID != "")

	return &ReconcileResult{
		FinalTier:        finalTier,
		FinalLevel:       finalLevel,
		FinalStatus:      finalStatus,
		StripeCustomerID: customerID,
		ProviderUsed:     used,
		Changed:          changed,
	}
}

// UserRepo 用户仓库接口
type UserRepo interface {
	GetUser(ctx context.Context, uid string) (*UserEntitlement, error)
	FindUserByEmail(ctx context.Context, email string) (*UserEntitlement, error)
	// ListUsers 按邮箱升序分页，cursor 为上一页最后一个用户的邮箱
	ListUsers(ctx context.Context, limit int, cursor string) ([]*UserEntitlement, error)
	// UpdateEntitlement 受保护写入：tier/level/status 无条件更新，
	// stripeCustomerID 仅在当前为空时写入（单调不变式）
	UpdateEntitlement(ctx context.Context, uid string, tier Tier, level, status, stripeCustomerID string) error
}

// SubscriptionRecord 渠道订阅镜像记录（按 provider+providerSubscriptionId 唯一）
// 由本子系统创建和更新，从不删除：取消以状态迁移表示。
type SubscriptionRecord struct {
	ID                     uint64
	UserEmail              string
	Provider               string
	ProviderSubscriptionID string
	Tier                   Tier
	Status                 string
	PeriodStart            time.Time
	PeriodEnd              time.Time
	CancelAtPeriodEnd      bool
	StripeCustomerID       string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// SubscriptionRecordRepo 渠道订阅镜像仓库接口
type SubscriptionRecordRepo interface {
	ListByUserAndProvider(ctx context.Context, email, provider string) ([]*SubscriptionRecord, error)
	Upsert(ctx context.Context, rec *SubscriptionRecord) error
}

// StripeSubscription 卡支付渠道订阅原始信息（防腐层）
type StripeSubscription struct {
	SubscriptionID    string
	CustomerID        string
	Status            string
	PriceID           string
	LookupKey         string
	Nickname          string
	ProductName       string
	MetadataTier      string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	CancelAtPeriodEnd bool
}

// StripeGateway 卡支付渠道客户端接口（防腐层）
type StripeGateway interface {
	// FindBestSubscription 按归一化邮箱查找客户及其最优订阅。
	// 客户存在但无订阅时返回 (customerID, nil, nil)；客户不存在时返回 ("", nil, nil)。
	// "最优"指 active/trialing 优先，否则取渠道返回的第一条。
	FindBestSubscription(ctx context.Context, email string) (string, *StripeSubscription, error)
}
