package biz

import (
	"context"
	"time"
)

// EntitlementHistory 权益变更历史记录
type EntitlementHistory struct {
	ID           uint64
	UID          string
	Email        string
	OldTier      Tier
	NewTier      Tier
	OldStatus    string
	NewStatus    string
	ProviderUsed string
	CreatedAt    time.Time
}

// EntitlementHistoryRepo 权益变更历史仓库接口
type EntitlementHistoryRepo interface {
	AddEntitlementHistory(ctx context.Context, history *EntitlementHistory) error
	GetEntitlementHistory(ctx context.Context, uid string, page, pageSize int) ([]*EntitlementHistory, int, error)
}

// GetEntitlementHistory 获取用户权益变更历史
func (uc *ReconcileUsecase) GetEntitlementHistory(ctx context.Context, uid string, page, pageSize int) ([]*EntitlementHistory, int, error) {
	// 参数验证
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	items, total, err := uc.historyRepo.GetEntitlementHistory(ctx, uid, page, pageSize)
	if err != nil {
		uc.log.Errorf("Failed to get entitlement history: %v", err)
		return nil, 0, err
	}
	return items, total, nil
}
