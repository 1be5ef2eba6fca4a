package biz

import (
	"context"
	"strings"
	"time"

	"xinyuan_tech/entitlement-service/internal/constants"
)

// BatchOptions 批量对账选项
type BatchOptions struct {
	BatchSize        int
	Cursor           string
	DryRun           bool
	ForceStripeCheck bool
}

// EntitlementState 权益三元组快照（批量结果样本用）
type EntitlementState struct {
	Tier   Tier
	Level  string
	Status string
}

// BatchFix 一条修复样本（变更前后对比）
type BatchFix struct {
	Email        string
	Before       EntitlementState
	After        EntitlementState
	ProviderUsed ObservationSource
}

// BatchError 一条错误样本
type BatchError struct {
	Email   string
	Message string
}

// BatchResult 一次批量对账的汇总结果
type BatchResult struct {
	DryRun       bool
	Scanned      int
	Fixed        int
	Unchanged    int
	ErrorsCount  int
	SampleFixes  []*BatchFix
	SampleErrors []*BatchError
	NextCursor   string
	HasMore      bool
}

// RunBatch 批量对账一页用户
// 严格逐行串行（渠道限流 + 执行时长预算下最稳妥的方式），单行失败只计数
// 不中断整批；用户分页查询失败才算整批失败。行间检查总时间预算，超出后
// 以 hasMore=true 优雅让位给下一轮，而不是被宿主强杀在行中间。
func (uc *ReconcileUsecase) RunBatch(ctx context.Context, opts BatchOptions) (*BatchResult, error) {
	size := opts.BatchSize
	if size <= 0 {
		size = uc.defaultBatchSize
	}
	if size > uc.batchSizeCap {
		size = uc.batchSizeCap
	}

	users, err := uc.userRepo.ListUsers(ctx, size, opts.Cursor)
	if err != nil {
		uc.log.WithContext(ctx).Errorf("Failed to list users for batch reconcile: %v", err)
		return nil, err
	}

	result := &BatchResult{
		DryRun:     opts.DryRun,
		NextCursor: opts.Cursor,
	}
	deadline := time.Now().Add(uc.batchDeadline)

	for _, u := range users {
		if time.Now().After(deadline) {
			uc.log.WithContext(ctx).Warnf("Batch deadline reached after %d rows, deferring the rest", result.Scanned)
			result.HasMore = true
			break
		}

		result.Scanned++
		result.NextCursor = u.Email

		// 廉价预筛：明显无需处理的用户不走对账。这里漏判只会推迟到
		// 下一轮，不会产生错误数据。
		if !opts.ForceStripeCheck && !needsReconcile(u) {
			result.Unchanged++
			continue
		}

		before := EntitlementState{Tier: u.Tier, Level: u.Level, Status: u.Status}
		_, r, err := uc.Run(ctx, Identity{UID: u.UID, Email: u.Email}, ReconcileOptions{
			ForceProviderCheck: opts.ForceStripeCheck,
			DryRun:             opts.DryRun,
		})
		if err != nil {
			result.ErrorsCount++
			if len(result.SampleErrors) < constants.SampleErrorLimit {
				result.SampleErrors = append(result.SampleErrors, &BatchError{
					Email:   u.Email,
					Message: err.Error(),
				})
			}
			continue
		}

		if r.Changed {
			result.Fixed++
			if len(result.SampleFixes) < constants.SampleFixLimit {
				result.SampleFixes = append(result.SampleFixes, &BatchFix{
					Email:        u.Email,
					Before:       before,
					After:        EntitlementState{Tier: r.FinalTier, Level: r.FinalLevel, Status: r.FinalStatus},
					ProviderUsed: r.ProviderUsed,
				})
			}
		} else {
			result.Unchanged++
		}
	}

	if !result.HasMore {
		result.HasMore = len(users) == size
	}

	uc.log.WithContext(ctx).Infof("Batch reconcile done: scanned=%d, fixed=%d, unchanged=%d, errors=%d, dryRun=%v, hasMore=%v",
		result.Scanned, result.Fixed, result.Unchanged, result.ErrorsCount, result.DryRun, result.HasMore)
	return result, nil
}

// needsReconcile 预筛条件：等级缺失/free 却带有付费迹象（有渠道客户ID
// 或状态不是 inactive）
func needsReconcile(u *UserEntitlement) bool {
	if u.Tier != "" && u.Tier != TierFree {
		return false
	}
	if u.StripeCustomerID != "" {
		return true
	}
	return u.Status != "" && !strings.EqualFold(u.Status, constants.StatusInactive)
}
