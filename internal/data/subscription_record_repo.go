package data

import (
	"context"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm/clause"
)

// subscriptionRecordRepo 渠道订阅镜像仓库实现
type subscriptionRecordRepo struct {
	data *Data
	log  *log.Helper
}

// NewSubscriptionRecordRepo 创建渠道订阅镜像仓库
func NewSubscriptionRecordRepo(data *Data, logger log.Logger) biz.SubscriptionRecordRepo {
	return &subscriptionRecordRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// ListByUserAndProvider 按用户邮箱和渠道过滤镜像记录
func (r *subscriptionRecordRepo) ListByUserAndProvider(ctx context.Context, email, provider string) ([]*biz.SubscriptionRecord, error) {
	var models []model.SubscriptionRecord
	if err := r.data.db.WithContext(ctx).
		Where("user_email = ? AND provider = ?", biz.NormalizeEmail(email), provider).
		Order("period_end DESC").
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list subscription records for %s/%s: %v", email, provider, err)
		return nil, err
	}

	records := make([]*biz.SubscriptionRecord, len(models))
	for i, m := range models {
		records[i] = &biz.SubscriptionRecord{
			ID:                     m.ID,
			UserEmail:              m.UserEmail,
			Provider:               m.Provider,
			ProviderSubscriptionID: m.ProviderSubscriptionID,
			Tier:                   biz.Tier(m.Tier),
			Status:                 m.Status,
			PeriodStart:            m.PeriodStart,
			PeriodEnd:              m.PeriodEnd,
			CancelAtPeriodEnd:      m.CancelAtPeriodEnd,
			StripeCustomerID:       m.StripeCustomerID,
			CreatedAt:              m.CreatedAt,
			UpdatedAt:              m.UpdatedAt,
		}
	}
	return records, nil
}

// Upsert 按 provider + provider_subscription_id 创建或刷新镜像记录
func (r *subscriptionRecordRepo) Upsert(ctx context.Context, rec *biz.SubscriptionRecord) error {
	m := &model.SubscriptionRecord{
		UserEmail:              biz.NormalizeEmail(rec.UserEmail),
		Provider:               rec.Provider,
		ProviderSubscriptionID: rec.ProviderSubscriptionID,
		Tier:                   string(rec.Tier),
		Status:                 rec.Status,
		PeriodStart:            rec.PeriodStart,
		PeriodEnd:              rec.PeriodEnd,
		CancelAtPeriodEnd:      rec.CancelAtPeriodEnd,
		StripeCustomerID:       rec.StripeCustomerID,
	}
	if err := r.data.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "provider_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_email", "tier", "status", "period_start", "period_end",
				"cancel_at_period_end", "stripe_customer_id",
			}),
		}).
		Create(m).Error; err != nil {
		r.log.Errorf("Failed to upsert subscription record %s/%s: %v", rec.Provider, rec.ProviderSubscriptionID, err)
		return err
	}
	return nil
}
