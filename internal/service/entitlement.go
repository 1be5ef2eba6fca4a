package service

import (
	"context"
	"strconv"

	"xinyuan_tech/entitlement-service/internal/auth"
	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	khttp "github.com/go-kratos/kratos/v2/transport/http"
)

// EntitlementService 权益对账服务（HTTP 薄适配层）
type EntitlementService struct {
	uc  *biz.ReconcileUsecase
	log *log.Helper
}

// NewEntitlementService 创建权益对账服务
func NewEntitlementService(uc *biz.ReconcileUsecase, logger log.Logger) *EntitlementService {
	return &EntitlementService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

// BatchReconcileRequest 批量对账请求
type BatchReconcileRequest struct {
	BatchSize        int    `json:"batchSize"`
	Cursor           string `json:"cursor"`
	DryRun           *bool  `json:"dryRun"` // 默认 true
	ForceStripeCheck bool   `json:"forceStripeCheck"`
}

// EntitlementState 权益三元组
type EntitlementState struct {
	Tier   string `json:"tier"`
	Level  string `json:"level"`
	Status string `json:"status"`
}

// SampleFix 修复样本
type SampleFix struct {
	Email        string           `json:"email"`
	Before       EntitlementState `json:"before"`
	After        EntitlementState `json:"after"`
	ProviderUsed string           `json:"providerUsed"`
}

// SampleError 错误样本
type SampleError struct {
	Email   string `json:"email"`
	Message string `json:"message"`
}

// BatchReconcileReply 批量对账响应
type BatchReconcileReply struct {
	Ok           bool           `json:"ok"`
	DryRun       bool           `json:"dryRun"`
	Scanned      int            `json:"scanned"`
	Fixed        int            `json:"fixed"`
	Unchanged    int            `json:"unchanged"`
	ErrorsCount  int            `json:"errorsCount"`
	SampleFixes  []*SampleFix   `json:"sampleFixes"`
	SampleErrors []*SampleError `json:"sampleErrors"`
	NextCursor   string         `json:"nextCursor"`
	HasMore      bool           `json:"hasMore"`
}

// UserReconcileRequest 单用户修复请求
type UserReconcileRequest struct {
	Email            string `json:"email"`
	DryRun           *bool  `json:"dryRun"` // 默认 true
	ForceStripeCheck bool   `json:"forceStripeCheck"`
}

// UserReconcileReply 单用户修复响应
type UserReconcileReply struct {
	Ok           bool             `json:"ok"`
	DryRun       bool             `json:"dryRun"`
	Email        string           `json:"email"`
	Changed      bool             `json:"changed"`
	ProviderUsed string           `json:"providerUsed"`
	Before       EntitlementState `json:"before"`
	After        EntitlementState `json:"after"`
}

// SyncEntitlementReply 登录同步响应
type SyncEntitlementReply struct {
	Ok           bool   `json:"ok"`
	Changed      bool   `json:"changed"`
	Tier         string `json:"tier"`
	Level        string `json:"level"`
	Status       string `json:"status"`
	ProviderUsed string `json:"providerUsed"`
}

// HistoryItem 权益变更历史条目
type HistoryItem struct {
	OldTier      string `json:"oldTier"`
	NewTier      string `json:"newTier"`
	OldStatus    string `json:"oldStatus"`
	NewStatus    string `json:"newStatus"`
	ProviderUsed string `json:"providerUsed"`
	CreatedAt    int64  `json:"createdAt"`
}

// HistoryReply 权益变更历史响应
type HistoryReply struct {
	Ok       bool           `json:"ok"`
	Items    []*HistoryItem `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
}

// ReconcileBatch 管理员批量对账
func (s *EntitlementService) ReconcileBatch(ctx khttp.Context) error {
	var req BatchReconcileRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	h := ctx.Middleware(func(c context.Context, v interface{}) (interface{}, error) {
		if err := auth.RequireAdmin(c); err != nil {
			return nil, err
		}
		r := v.(*BatchReconcileRequest)

		dryRun := true
		if r.DryRun != nil {
			dryRun = *r.DryRun
		}
		result, err := s.uc.RunBatch(c, biz.BatchOptions{
			BatchSize:        r.BatchSize,
			Cursor:           r.Cursor,
			DryRun:           dryRun,
			ForceStripeCheck: r.ForceStripeCheck,
		})
		if err != nil {
			return nil, err
		}
		return toBatchReply(result), nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// ReconcileUser 管理员单用户修复
func (s *EntitlementService) ReconcileUser(ctx khttp.Context) error {
	var req UserReconcileRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}

	h := ctx.Middleware(func(c context.Context, v interface{}) (interface{}, error) {
		if err := auth.RequireAdmin(c); err != nil {
			return nil, err
		}
		r := v.(*UserReconcileRequest)
		if biz.NormalizeEmail(r.Email) == "" {
			return nil, pkgErrors.NewBizErrorWithLang(c, errors.ErrCodeEmailRequired)
		}

		dryRun := true
		if r.DryRun != nil {
			dryRun = *r.DryRun
		}
		before, result, err := s.uc.Run(c, biz.Identity{Email: r.Email}, biz.ReconcileOptions{
			ForceProviderCheck: r.ForceStripeCheck,
			DryRun:             dryRun,
		})
		if err != nil {
			return nil, err
		}
		return &UserReconcileReply{
			Ok:           true,
			DryRun:       dryRun,
			Email:        before.Email,
			Changed:      result.Changed,
			ProviderUsed: string(result.ProviderUsed),
			Before: EntitlementState{
				Tier:   string(before.Tier),
				Level:  before.Level,
				Status: before.Status,
			},
			After: EntitlementState{
				Tier:   string(result.FinalTier),
				Level:  result.FinalLevel,
				Status: result.FinalStatus,
			},
		}, nil
	})
	out, err := h(ctx, &req)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// SyncEntitlement 登录时的自助权益同步（仅限本人）
func (s *EntitlementService) SyncEntitlement(ctx khttp.Context) error {
	h := ctx.Middleware(func(c context.Context, v interface{}) (interface{}, error) {
		uid, err := auth.RequireUser(c)
		if err != nil {
			return nil, err
		}

		_, result, err := s.uc.Run(c, biz.Identity{UID: uid}, biz.ReconcileOptions{})
		if err != nil {
			return nil, err
		}
		return &SyncEntitlementReply{
			Ok:           true,
			Changed:      result.Changed,
			Tier:         string(result.FinalTier),
			Level:        result.FinalLevel,
			Status:       result.FinalStatus,
			ProviderUsed: string(result.ProviderUsed),
		}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

// GetHistory 查询本人权益变更历史
func (s *EntitlementService) GetHistory(ctx khttp.Context) error {
	page, _ := strconv.Atoi(ctx.Query().Get("page"))
	pageSize, _ := strconv.Atoi(ctx.Query().Get("page_size"))

	h := ctx.Middleware(func(c context.Context, v interface{}) (interface{}, error) {
		uid, err := auth.RequireUser(c)
		if err != nil {
			return nil, err
		}
		if page < 1 {
			page = 1
		}
		if pageSize < 1 {
			pageSize = 10
		}

		items, total, err := s.uc.GetEntitlementHistory(c, uid, page, pageSize)
		if err != nil {
			return nil, err
		}

		replyItems := make([]*HistoryItem, len(items))
		for i, item := range items {
			replyItems[i] = &HistoryItem{
				OldTier:      string(item.OldTier),
				NewTier:      string(item.NewTier),
				OldStatus:    item.OldStatus,
				NewStatus:    item.NewStatus,
				ProviderUsed: item.ProviderUsed,
				CreatedAt:    item.CreatedAt.Unix(),
			}
		}
		return &HistoryReply{
			Ok:       true,
			Items:    replyItems,
			Total:    total,
			Page:     page,
			PageSize: pageSize,
		}, nil
	})
	out, err := h(ctx, nil)
	if err != nil {
		return err
	}
	return ctx.Result(200, out)
}

func toBatchReply(result *biz.BatchResult) *BatchReconcileReply {
	reply := &BatchReconcileReply{
		Ok:           true,
		DryRun:       result.DryRun,
		Scanned:      result.Scanned,
		Fixed:        result.Fixed,
		Unchanged:    result.Unchanged,
		ErrorsCount:  result.ErrorsCount,
		SampleFixes:  make([]*SampleFix, len(result.SampleFixes)),
		SampleErrors: make([]*SampleError, len(result.SampleErrors)),
		NextCursor:   result.NextCursor,
		HasMore:      result.HasMore,
	}
	for i, fix := range result.SampleFixes {
		reply.SampleFixes[i] = &SampleFix{
			Email: fix.Email,
			Before: EntitlementState{
				Tier:   string(fix.Before.Tier),
				Level:  fix.Before.Level,
				Status: fix.Before.Status,
			},
			After: EntitlementState{
				Tier:   string(fix.After.Tier),
				Level:  fix.After.Level,
				Status: fix.After.Status,
			},
			ProviderUsed: string(fix.ProviderUsed),
		}
	}
	for i, e := range result.SampleErrors {
		reply.SampleErrors[i] = &SampleError{
			Email:   e.Email,
			Message: e.Message,
		}
	}
	return reply
}
