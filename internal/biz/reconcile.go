package biz

import (
	"context"
	"time"

	"xinyuan_tech/entitlement-service/internal/conf"
	"xinyuan_tech/entitlement-service/internal/constants"
	"xinyuan_tech/entitlement-service/internal/errors"

	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
)

// Identity 对账目标用户标识，uid 优先，邮箱兜底
type Identity struct {
	UID   string
	Email string
}

// ReconcileOptions 单用户对账选项
type ReconcileOptions struct {
	// ForceProviderCheck 跳过缓存短路，强制查询卡支付渠道
	ForceProviderCheck bool
	// DryRun 只计算不落库
	DryRun bool
}

// ReconcileUsecase 权益对账业务逻辑
// 唯一的对账策略实现，登录同步、管理员单用户修复、批量任务都是它的薄适配。
type ReconcileUsecase struct {
	userRepo    UserRepo
	recordRepo  SubscriptionRecordRepo
	historyRepo EntitlementHistoryRepo
	stripe      StripeGateway
	classifier  *TierClassifier
	rs          *redsync.Redsync
	log         *log.Helper

	providerTimeout  time.Duration
	batchDeadline    time.Duration
	batchSizeCap     int
	defaultBatchSize int
}

// NewReconcileUsecase 创建权益对账用例
func NewReconcileUsecase(
	userRepo UserRepo,
	recordRepo SubscriptionRecordRepo,
	historyRepo EntitlementHistoryRepo,
	stripe StripeGateway,
	classifier *TierClassifier,
	rs *redsync.Redsync,
	c *conf.Bootstrap,
	logger log.Logger,
) *ReconcileUsecase {
	uc := &ReconcileUsecase{
		userRepo:         userRepo,
		recordRepo:       recordRepo,
		historyRepo:      historyRepo,
		stripe:           stripe,
		classifier:       classifier,
		rs:               rs,
		log:              log.NewHelper(logger),
		providerTimeout:  constants.DefaultProviderTimeout,
		batchDeadline:    constants.DefaultBatchDeadline,
		batchSizeCap:     constants.MaxBatchSize,
		defaultBatchSize: constants.DefaultBatchSize,
	}
	if c != nil && c.Reconcile != nil {
		if d, err := time.ParseDuration(c.Reconcile.ProviderTimeout); err == nil && d > 0 {
			uc.providerTimeout = d
		}
		if d, err := time.ParseDuration(c.Reconcile.BatchDeadline); err == nil && d > 0 {
			uc.batchDeadline = d
		}
		if c.Reconcile.BatchSizeCap > 0 && c.Reconcile.BatchSizeCap < constants.MaxBatchSize {
			uc.batchSizeCap = c.Reconcile.BatchSizeCap
		}
		if c.Reconcile.DefaultBatchSize > 0 {
			uc.defaultBatchSize = c.Reconcile.DefaultBatchSize
		}
	}
	if uc.defaultBatchSize > uc.batchSizeCap {
		uc.defaultBatchSize = uc.batchSizeCap
	}
	return uc
}

// Run 对单个用户执行一次权益对账
// 返回对账前的缓存快照和裁决结果。渠道查询失败不会让本次对账失败：
// 失败的渠道按"无观测"参与裁决，由降级保护兜底。
func (uc *ReconcileUsecase) Run(ctx context.Context, id Identity, opts ReconcileOptions) (*UserEntitlement, *ReconcileResult, error) {
	cached, err := uc.fetchUser(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cached == nil {
		return nil, nil, pkgErrors.NewBizErrorWithLang(ctx, errors.ErrCodeUserNotFound)
	}
	cached.Email = NormalizeEmail(cached.Email)

	// 渠道观测：先卡支付渠道，后 Apple 镜像，严格串行（渠道侧限流）
	stripeObs, stripeSub := uc.observeStripe(ctx, cached, opts.ForceProviderCheck)
	appleObs := uc.observeApple(ctx, cached.Email)

	// 卡支付渠道镜像记录：每次触达该渠道都刷新
	if stripeSub != nil && !opts.DryRun {
		uc.upsertStripeRecord(ctx, cached.Email, stripeObs, stripeSub)
	}

	result := Reconcile(cached, stripeObs, appleObs, WasEverPaid(cached))
	if !result.Changed || opts.DryRun {
		return cached, result, nil
	}

	return uc.persist(ctx, cached, stripeObs, appleObs, result)
}

// fetchUser 读取用户缓存状态：uid 优先，失败回落到邮箱查询
func (uc *ReconcileUsecase) fetchUser(ctx context.Context, id Identity) (*UserEntitlement, error) {
	if id.UID != "" {
		u, err := uc.userRepo.GetUser(ctx, id.UID)
		if err != nil {
			uc.log.WithContext(ctx).Warnf("GetUser failed for uid %s, falling back to email lookup: %v", id.UID, err)
		} else if u != nil {
			return u, nil
		}
	}
	email := NormalizeEmail(id.Email)
	if email == "" {
		return nil, nil
	}
	return uc.userRepo.FindUserByEmail(ctx, email)
}

// cachedLooksFresh 缓存状态已知良好，跳过外部调用以控制渠道API调用量
func cachedLooksFresh(cached *UserEntitlement) bool {
	if cached.Tier == "" || cached.Tier == TierFree {
		return false
	}
	if !IsActiveStatus(cached.Status) {
		return false
	}
	return cached.StripeCustomerID != ""
}

// observeStripe 生成卡支付渠道观测
// 缓存新鲜且未强制时用缓存合成观测；查询异常吞掉并按无观测处理。
func (uc *ReconcileUsecase) observeStripe(ctx context.Context, cached *UserEntitlement, force bool) (*ProviderObservation, *StripeSubscription) {
	if !force && cachedLooksFresh(cached) {
		return &ProviderObservation{
			Tier:       cached.Tier,
			Status:     cached.Status,
			CustomerID: cached.StripeCustomerID,
			Source:     SourceStripe,
		}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, uc.providerTimeout)
	defer cancel()

	customerID, sub, err := uc.stripe.FindBestSubscription(cctx, cached.Email)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("Stripe lookup failed for %s, treating as absent: %v", cached.Email, err)
		return nil, nil
	}
	if customerID == "" {
		return nil, nil
	}

	obs := &ProviderObservation{CustomerID: customerID, Source: SourceStripe}
	if sub != nil {
		obs.Tier = uc.classifier.Classify(ctx, PlanSignals{
			PriceID:      sub.PriceID,
			LookupKey:    sub.LookupKey,
			Nickname:     sub.Nickname,
			ProductName:  sub.ProductName,
			MetadataTier: sub.MetadataTier,
		})
		obs.Status = sub.Status
	}
	return obs, sub
}

// observeApple 生成 Apple 内购渠道观测（本地镜像表，active 优先）
func (uc *ReconcileUsecase) observeApple(ctx context.Context, email string) *ProviderObservation {
	records, err := uc.recordRepo.ListByUserAndProvider(ctx, email, constants.ProviderApple)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("Apple mirror lookup failed for %s, treating as absent: %v", email, err)
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	best := records[0]
	for _, rec := range records {
		if IsActiveStatus(rec.Status) {
			best = rec
			break
		}
	}

	tier := best.Tier
	if tier == "" {
		// 镜像记录未带等级时默认 premium
		tier = TierPremium
	}
	return &ProviderObservation{
		Tier:       tier,
		Status:     best.Status,
		CustomerID: best.StripeCustomerID,
		Source:     SourceApple,
	}
}

// upsertStripeRecord 刷新卡支付渠道的订阅镜像记录
func (uc *ReconcileUsecase) upsertStripeRecord(ctx context.Context, email string, obs *ProviderObservation, sub *StripeSubscription) {
	rec := &SubscriptionRecord{
		UserEmail:              email,
		Provider:               constants.ProviderStripe,
		ProviderSubscriptionID: sub.SubscriptionID,
		Tier:                   obs.Tier,
		Status:                 sub.Status,
		PeriodStart:            sub.PeriodStart,
		PeriodEnd:              sub.PeriodEnd,
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		StripeCustomerID:       sub.CustomerID,
	}
	if err := uc.recordRepo.Upsert(ctx, rec); err != nil {
		uc.log.WithContext(ctx).Warnf("Failed to upsert stripe subscription record for %s: %v", email, err)
	}
}

// persist 加锁落库
// 锁内重读缓存并重新裁决：登录触发和批量触发可能并发命中同一用户，
// 以锁内的最新缓存为准，避免丢失更新。
func (uc *ReconcileUsecase) persist(ctx context.Context, cached *UserEntitlement, stripeObs, appleObs *ProviderObservation, result *ReconcileResult) (*UserEntitlement, *ReconcileResult, error) {
	mutex := uc.rs.NewMutex(
		"entitlement:reconcile:"+cached.UID,
		redsync.WithExpiry(constants.ReconcileLockExpiration),
		redsync.WithTries(constants.ReconcileLockRetries),
	)
	if err := mutex.LockContext(ctx); err != nil {
		uc.log.WithContext(ctx).Infof("Reconcile lock busy for user %s", cached.UID)
		return cached, nil, pkgErrors.NewBizErrorWithLang(ctx, errors.ErrCodeReconcileLockBusy)
	}
	defer func() {
		if _, err := mutex.UnlockContext(ctx); err != nil {
			uc.log.WithContext(ctx).Warnf("Failed to unlock reconcile lock for user %s: %v", cached.UID, err)
		}
	}()

	// 锁内再次检查，缓存可能已被并发对账更新
	if fresh, err := uc.userRepo.GetUser(ctx, cached.UID); err == nil && fresh != nil {
		cached = fresh
		result = Reconcile(cached, stripeObs, appleObs, WasEverPaid(cached))
		if !result.Changed {
			return cached, result, nil
		}
	}

	if err := uc.userRepo.UpdateEntitlement(ctx, cached.UID, result.FinalTier, result.FinalLevel, result.FinalStatus, result.StripeCustomerID); err != nil {
		uc.log.WithContext(ctx).Errorf("Failed to persist entitlement for user %s: %v", cached.UID, err)
		return cached, nil, err
	}

	history := &EntitlementHistory{
		UID:          cached.UID,
		Email:        cached.Email,
		OldTier:      cached.Tier,
		NewTier:      result.FinalTier,
		OldStatus:    cached.Status,
		NewStatus:    result.FinalStatus,
		ProviderUsed: string(result.ProviderUsed),
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.historyRepo.AddEntitlementHistory(ctx, history); err != nil {
		uc.log.WithContext(ctx).Errorf("Failed to add entitlement history for user %s: %v", cached.UID, err)
	}

	uc.log.WithContext(ctx).Infof("Entitlement reconciled for %s: %s/%s -> %s/%s (source=%s)",
		cached.Email, cached.Tier, cached.Status, result.FinalTier, result.FinalStatus, result.ProviderUsed)
	return cached, result, nil
}
