package data

import (
	"context"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
)

// historyRepo 权益变更历史仓库实现
type historyRepo struct {
	data *Data
	log  *log.Helper
}

// NewEntitlementHistoryRepo 创建权益变更历史仓库
func NewEntitlementHistoryRepo(data *Data, logger log.Logger) biz.EntitlementHistoryRepo {
	return &historyRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// AddEntitlementHistory 添加权益变更历史记录
func (r *historyRepo) AddEntitlementHistory(ctx context.Context, history *biz.EntitlementHistory) error {
	m := &model.EntitlementHistory{
		UID:          history.UID,
		Email:        history.Email,
		OldTier:      string(history.OldTier),
		NewTier:      string(history.NewTier),
		OldStatus:    history.OldStatus,
		NewStatus:    history.NewStatus,
		ProviderUsed: history.ProviderUsed,
		CreatedAt:    history.CreatedAt,
	}
	if err := r.data.db.WithContext(ctx).Create(m).Error; err != nil {
		r.log.Errorf("Failed to add entitlement history for user %s: %v", history.UID, err)
		return err
	}
	return nil
}

// GetEntitlementHistory 获取用户权益变更历史
func (r *historyRepo) GetEntitlementHistory(ctx context.Context, uid string, page, pageSize int) ([]*biz.EntitlementHistory, int, error) {
	var models []model.EntitlementHistory
	var total int64

	// 获取总数
	if err := r.data.db.WithContext(ctx).Model(&model.EntitlementHistory{}).Where("uid = ?", uid).Count(&total).Error; err != nil {
		r.log.Errorf("Failed to count entitlement history for user %s: %v", uid, err)
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	if err := r.data.db.WithContext(ctx).
		Where("uid = ?", uid).
		Order("created_at DESC").
		Limit(pageSize).
		Offset(offset).
		Find(&models).Error; err != nil {
		r.log.Errorf("Failed to get entitlement history for user %s: %v", uid, err)
		return nil, 0, err
	}

	// 转换为业务对象
	items := make([]*biz.EntitlementHistory, len(models))
	for i, m := range models {
		items[i] = &biz.EntitlementHistory{
			ID:           m.ID,
			UID:          m.UID,
			Email:        m.Email,
			OldTier:      biz.Tier(m.OldTier),
			NewTier:      biz.Tier(m.NewTier),
			OldStatus:    m.OldStatus,
			NewStatus:    m.NewStatus,
			ProviderUsed: m.ProviderUsed,
			CreatedAt:    m.CreatedAt,
		}
	}

	return items, int(total), nil
}
