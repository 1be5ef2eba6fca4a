package biz

import (
	"context"
	"strings"

	"xinyuan_tech/entitlement-service/internal/conf"
	"xinyuan_tech/entitlement-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// Tier 订阅等级
type Tier string

const (
	TierFree    Tier = constants.TierFree
	TierPremium Tier = constants.TierPremium
	TierPro     Tier = constants.TierPro
)

// tierPriority 等级优先级表（冲突仲裁用），未知等级按 free 处理
var tierPriority = map[Tier]int{
	TierPro:     3,
	TierPremium: 2,
	TierFree:    1,
}

// Priority 返回等级优先级，未识别的等级视同 free
func (t Tier) Priority() int {
	if p, ok := tierPriority[t]; ok {
		return p
	}
	return tierPriority[TierFree]
}

// Level 由等级推导付费级别：tier != free 即 paid
func (t Tier) Level() string {
	if t == "" || t == TierFree {
		return constants.LevelFree
	}
	return constants.LevelPaid
}

// ParseTier 解析等级字符串（大小写不敏感）
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFree:
		return TierFree, true
	case TierPremium:
		return TierPremium, true
	case TierPro:
		return TierPro, true
	}
	return "", false
}

// PlanSignals 渠道侧套餐的可用归类信号
type PlanSignals struct {
	PriceID      string
	LookupKey    string
	Nickname     string
	ProductName  string
	MetadataTier string
}

// UnclassifiedPlanCounter 兜底归类计数器（观测用，失败不影响归类结果）
type UnclassifiedPlanCounter interface {
	Incr(ctx context.Context)
}

// TierClassifier 套餐等级归类器
// 归类顺序：metadata 标签 -> 配置的价格ID映射表 -> 名称子串启发式 -> 兜底 premium。
// 兜底 premium 表示"已付费但无法归类"，不是错误，该组件永不失败。
type TierClassifier struct {
	priceTiers map[string]Tier
	counter    UnclassifiedPlanCounter
	log        *log.Helper
}

// NewTierClassifier 创建套餐等级归类器
func NewTierClassifier(c *conf.Bootstrap, counter UnclassifiedPlanCounter, logger log.Logger) *TierClassifier {
	priceTiers := make(map[string]Tier)
	if c != nil && c.Stripe != nil {
		for priceID, tier := range c.Stripe.PriceTiers {
			if t, ok := ParseTier(tier); ok {
				priceTiers[priceID] = t
			}
		}
	}
	return &TierClassifier{
		priceTiers: priceTiers,
		counter:    counter,
		log:        log.NewHelper(logger),
	}
}

// Classify 将渠道侧套餐信号归类为订阅等级
func (c *TierClassifier) Classify(ctx context.Context, sig PlanSignals) Tier {
	// 1. 套餐/订阅上的显式 metadata 标签
	if t, ok := ParseTier(sig.MetadataTier); ok {
		return t
	}

	// 2. 配置的价格ID映射表精确匹配
	if t, ok := c.priceTiers[sig.PriceID]; ok {
		return t
	}

	// 3. 人类可读名称的子串启发式
	name := strings.ToLower(sig.LookupKey + " " + sig.Nickname + " " + sig.ProductName)
	if strings.Contains(name, "pro") {
		return TierPro
	}
	if strings.Contains(name, "premium") {
		return TierPremium
	}

	// 4. 订阅存在但等级无法判定，兜底为 premium（已付费但未归类）
	c.log.WithContext(ctx).Warnf("Unclassified plan, defaulting to premium: price_id=%s, lookup_key=%s, nickname=%s, product=%s",
		sig.PriceID, sig.LookupKey, sig.Nickname, sig.ProductName)
	if c.counter != nil {
		c.counter.Incr(ctx)
	}
	return TierPremium
}
