package biz_test

import (
	"testing"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/constants"

	"github.com/stretchr/testify/assert"
)

func TestIsActiveStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"active", true},
		{"trialing", true},
		{"trial", true},
		{"ACTIVE", true},
		{"  Trialing  ", true},
		{"inactive", false},
		{"canceled", false},
		{"past_due", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, biz.IsActiveStatus(tt.status), "status=%q", tt.status)
	}
}

func TestWasEverPaid(t *testing.T) {
	assert.False(t, biz.WasEverPaid(nil))
	assert.False(t, biz.WasEverPaid(&biz.UserEntitlement{Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}))
	assert.True(t, biz.WasEverPaid(&biz.UserEntitlement{Level: constants.LevelPaid}))
	assert.True(t, biz.WasEverPaid(&biz.UserEntitlement{Tier: biz.TierPremium}))
	assert.True(t, biz.WasEverPaid(&biz.UserEntitlement{Tier: biz.TierPro}))
	// 仅状态活跃也算曾付费（故意从宽）
	assert.True(t, biz.WasEverPaid(&biz.UserEntitlement{Tier: biz.TierFree, Status: "trialing"}))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "user@example.com", biz.NormalizeEmail("  User@Example.COM  "))
	assert.Equal(t, "", biz.NormalizeEmail("   "))
}

func TestReconcile_BothActive(t *testing.T) {
	cached := &biz.UserEntitlement{UID: "u1", Tier: biz.TierFree, Level: constants.LevelFree}

	// 等级相同：Stripe 胜出
	r := biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", CustomerID: "cus_1", Source: biz.SourceStripe},
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", Source: biz.SourceApple},
		false)
	assert.Equal(t, biz.SourceStripe, r.ProviderUsed)
	assert.Equal(t, biz.TierPremium, r.FinalTier)
	assert.Equal(t, constants.LevelPaid, r.FinalLevel)

	// Apple 等级更高：Apple 胜出
	r = biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", CustomerID: "cus_1", Source: biz.SourceStripe},
		&biz.ProviderObservation{Tier: biz.TierPro, Status: "active", Source: biz.SourceApple},
		false)
	assert.Equal(t, biz.SourceApple, r.ProviderUsed)
	assert.Equal(t, biz.TierPro, r.FinalTier)
	// Apple 胜出也不影响 Stripe 客户ID的归并
	assert.Equal(t, "cus_1", r.StripeCustomerID)

	// Stripe 等级更高：Stripe 胜出
	r = biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPro, Status: "active", Source: biz.SourceStripe},
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", Source: biz.SourceApple},
		false)
	assert.Equal(t, biz.SourceStripe, r.ProviderUsed)
	assert.Equal(t, biz.TierPro, r.FinalTier)
}

func TestReconcile_SingleProviderActive(t *testing.T) {
	cached := &biz.UserEntitlement{UID: "u1", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}

	r := biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPro, Status: "trialing", CustomerID: "cus_1", Source: biz.SourceStripe},
		nil, false)
	assert.Equal(t, biz.SourceStripe, r.ProviderUsed)
	assert.Equal(t, biz.TierPro, r.FinalTier)
	assert.Equal(t, "trialing", r.FinalStatus)
	assert.True(t, r.Changed)

	r = biz.Reconcile(cached, nil,
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", Source: biz.SourceApple},
		false)
	assert.Equal(t, biz.SourceApple, r.ProviderUsed)
	assert.Equal(t, biz.TierPremium, r.FinalTier)

	// Stripe 不活跃但 Apple 活跃
	r = biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPro, Status: "canceled", CustomerID: "cus_1", Source: biz.SourceStripe},
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", Source: biz.SourceApple},
		false)
	assert.Equal(t, biz.SourceApple, r.ProviderUsed)
	assert.Equal(t, biz.TierPremium, r.FinalTier)
	assert.Equal(t, "cus_1", r.StripeCustomerID)
}

func TestReconcile_NeitherActive(t *testing.T) {
	// 曾付费：原样保留缓存，不降级
	cached := &biz.UserEntitlement{UID: "u1", Tier: biz.TierPro, Level: constants.LevelPaid, Status: "active", StripeCustomerID: "cus_1"}
	r := biz.Reconcile(cached, nil, nil, true)
	assert.Equal(t, biz.SourcePreserved, r.ProviderUsed)
	assert.Equal(t, biz.TierPro, r.FinalTier)
	assert.Equal(t, "active", r.FinalStatus)
	assert.False(t, r.Changed)

	// 从未付费：置为 free/inactive
	cached = &biz.UserEntitlement{UID: "u2", Tier: "", Level: "", Status: ""}
	r = biz.Reconcile(cached, nil, nil, false)
	assert.Equal(t, biz.SourceNone, r.ProviderUsed)
	assert.Equal(t, biz.TierFree, r.FinalTier)
	assert.Equal(t, constants.LevelFree, r.FinalLevel)
	assert.Equal(t, constants.StatusInactive, r.FinalStatus)
	assert.True(t, r.Changed)
}

func TestReconcile_CustomerIDNeverCleared(t *testing.T) {
	cached := &biz.UserEntitlement{UID: "u1", Tier: biz.TierPremium, Level: constants.LevelPaid, Status: "active", StripeCustomerID: "cus_old"}

	// 本次观测没带客户ID：回落到缓存值
	r := biz.Reconcile(cached, nil,
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", Source: biz.SourceApple},
		true)
	assert.Equal(t, "cus_old", r.StripeCustomerID)

	// 本次观测带了新客户ID：取新值
	r = biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", CustomerID: "cus_new", Source: biz.SourceStripe},
		nil, true)
	assert.Equal(t, "cus_new", r.StripeCustomerID)

	// 渠道均无观测：缓存值保留
	r = biz.Reconcile(cached, nil, nil, true)
	assert.Equal(t, "cus_old", r.StripeCustomerID)
}

func TestReconcile_ChangedOnCustomerIDFill(t *testing.T) {
	// 三元组不变，但缓存客户ID为空且本次发现了客户ID：计为变更
	cached := &biz.UserEntitlement{UID: "u1", Tier: biz.TierPremium, Level: constants.LevelPaid, Status: "active", StripeCustomerID: ""}
	r := biz.Reconcile(cached,
		&biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", CustomerID: "cus_1", Source: biz.SourceStripe},
		nil, true)
	assert.True(t, r.Changed)
	assert.Equal(t, "cus_1", r.StripeCustomerID)
}

func TestReconcile_Deterministic(t *testing.T) {
	cached := &biz.UserEntitlement{UID: "u1", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}
	stripeObs := &biz.ProviderObservation{Tier: biz.TierPremium, Status: "active", CustomerID: "cus_1", Source: biz.SourceStripe}
	appleObs := &biz.ProviderObservation{Tier: biz.TierPro, Status: "trial", Source: biz.SourceApple}

	first := biz.Reconcile(cached, stripeObs, appleObs, false)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, biz.Reconcile(cached, stripeObs, appleObs, false))
	}

	// 幂等：把裁决结果写回缓存后重跑，不再产生变更
	cached2 := &biz.UserEntitlement{
		UID:              "u1",
		Tier:             first.FinalTier,
		Level:            first.FinalLevel,
		Status:           first.FinalStatus,
		StripeCustomerID: first.StripeCustomerID,
	}
	again := biz.Reconcile(cached2, stripeObs, appleObs, true)
	assert.False(t, again.Changed)
	assert.Equal(t, first.FinalTier, again.FinalTier)
}
