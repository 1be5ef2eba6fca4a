package biz_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/conf"
	"xinyuan_tech/entitlement-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-redsync/redsync/v4"
	redsyncredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- 测试替身 ----

type updateCall struct {
	uid              string
	tier             biz.Tier
	level            string
	status           string
	stripeCustomerID string
}

type fakeUserRepo struct {
	users       map[string]*biz.UserEntitlement // by uid
	getErrs     map[string]error                // by uid
	findErrs    map[string]error                // by email
	listErr     error
	listLimits  []int
	getCalls    int
	updates     []updateCall
	updateErr   error
}

func newFakeUserRepo(users ...*biz.UserEntitlement) *fakeUserRepo {
	r := &fakeUserRepo{
		users:    make(map[string]*biz.UserEntitlement),
		getErrs:  make(map[string]error),
		findErrs: make(map[string]error),
	}
	for _, u := range users {
		r.users[u.UID] = u
	}
	return r
}

func (r *fakeUserRepo) GetUser(ctx context.Context, uid string) (*biz.UserEntitlement, error) {
	r.getCalls++
	if err := r.getErrs[uid]; err != nil {
		return nil, err
	}
	u := r.users[uid]
	if u == nil {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) FindUserByEmail(ctx context.Context, email string) (*biz.UserEntitlement, error) {
	if err := r.findErrs[email]; err != nil {
		return nil, err
	}
	for _, u := range r.users {
		if biz.NormalizeEmail(u.Email) == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) ListUsers(ctx context.Context, limit int, cursor string) ([]*biz.UserEntitlement, error) {
	r.listLimits = append(r.listLimits, limit)
	if r.listErr != nil {
		return nil, r.listErr
	}
	var all []*biz.UserEntitlement
	for _, u := range r.users {
		all = append(all, u)
	}
	// 邮箱升序 + 游标过滤，模拟仓库的分页语义
	for i := 0; i < len(all); i++ {
		for j := i + 1; j < len(all); j++ {
			if all[j].Email < all[i].Email {
				all[i], all[j] = all[j], all[i]
			}
		}
	}
	var page []*biz.UserEntitlement
	for _, u := range all {
		if u.Email <= cursor {
			continue
		}
		cp := *u
		page = append(page, &cp)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (r *fakeUserRepo) UpdateEntitlement(ctx context.Context, uid string, tier biz.Tier, level, status, stripeCustomerID string) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates = append(r.updates, updateCall{uid: uid, tier: tier, level: level, status: status, stripeCustomerID: stripeCustomerID})
	if u := r.users[uid]; u != nil {
		u.Tier = tier
		u.Level = level
		u.Status = status
		if u.StripeCustomerID == "" {
			u.StripeCustomerID = stripeCustomerID
		}
	}
	return nil
}

type fakeRecordRepo struct {
	records map[string][]*biz.SubscriptionRecord // by email+"/"+provider
	listErr error
	upserts []*biz.SubscriptionRecord
}

func newFakeRecordRepo() *fakeRecordRepo {
	return &fakeRecordRepo{records: make(map[string][]*biz.SubscriptionRecord)}
}

func (r *fakeRecordRepo) addApple(email string, rec *biz.SubscriptionRecord) {
	rec.UserEmail = email
	rec.Provider = constants.ProviderApple
	key := email + "/" + constants.ProviderApple
	r.records[key] = append(r.records[key], rec)
}

func (r *fakeRecordRepo) ListByUserAndProvider(ctx context.Context, email, provider string) ([]*biz.SubscriptionRecord, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.records[email+"/"+provider], nil
}

func (r *fakeRecordRepo) Upsert(ctx context.Context, rec *biz.SubscriptionRecord) error {
	r.upserts = append(r.upserts, rec)
	return nil
}

type fakeHistoryRepo struct {
	items []*biz.EntitlementHistory
}

func (r *fakeHistoryRepo) AddEntitlementHistory(ctx context.Context, history *biz.EntitlementHistory) error {
	r.items = append(r.items, history)
	return nil
}

func (r *fakeHistoryRepo) GetEntitlementHistory(ctx context.Context, uid string, page, pageSize int) ([]*biz.EntitlementHistory, int, error) {
	return r.items, len(r.items), nil
}

type fakeStripeGateway struct {
	customerID string
	sub        *biz.StripeSubscription
	err        error
	calls      int
}

func (g *fakeStripeGateway) FindBestSubscription(ctx context.Context, email string) (string, *biz.StripeSubscription, error) {
	g.calls++
	if g.err != nil {
		return "", nil, g.err
	}
	return g.customerID, g.sub, nil
}

// 内存版锁存储，替代 Redis 支撑 redsync
type fakeLockConn struct {
	store map[string]string
}

func (c *fakeLockConn) Get(name string) (string, error)        { return c.store[name], nil }
func (c *fakeLockConn) Set(name string, value string) (bool, error) {
	c.store[name] = value
	return true, nil
}
func (c *fakeLockConn) SetNX(name string, value string, expiry time.Duration) (bool, error) {
	if _, ok := c.store[name]; ok {
		return false, nil
	}
	c.store[name] = value
	return true, nil
}
func (c *fakeLockConn) Eval(script *redsyncredis.Script, keysAndArgs ...interface{}) (interface{}, error) {
	if len(keysAndArgs) > 0 {
		if name, ok := keysAndArgs[0].(string); ok {
			delete(c.store, name)
		}
	}
	return int64(1), nil
}
func (c *fakeLockConn) PTTL(name string) (time.Duration, error) {
	return constants.ReconcileLockExpiration, nil
}
func (c *fakeLockConn) Close() error { return nil }

type fakeLockPool struct {
	conn *fakeLockConn
}

func (p *fakeLockPool) Get(ctx context.Context) (redsyncredis.Conn, error) {
	return p.conn, nil
}

func newTestRedsync() *redsync.Redsync {
	return redsync.New(&fakeLockPool{conn: &fakeLockConn{store: make(map[string]string)}})
}

type ucDeps struct {
	userRepo   *fakeUserRepo
	recordRepo *fakeRecordRepo
	history    *fakeHistoryRepo
	gateway    *fakeStripeGateway
}

func newTestUsecase(deps *ucDeps, c *conf.Bootstrap) *biz.ReconcileUsecase {
	classifier := newTestClassifier(map[string]string{
		"price_premium_m": "premium",
		"price_pro_m":     "pro",
	}, nil)
	return biz.NewReconcileUsecase(
		deps.userRepo,
		deps.recordRepo,
		deps.history,
		deps.gateway,
		classifier,
		newTestRedsync(),
		c,
		log.DefaultLogger,
	)
}

// ---- 单用户对账 ----

func TestRun_UserNotFound(t *testing.T) {
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{},
	}
	uc := newTestUsecase(deps, nil)

	_, _, err := uc.Run(context.Background(), biz.Identity{UID: "missing", Email: "nobody@example.com"}, biz.ReconcileOptions{})
	assert.Error(t, err)
}

func TestRun_FallbackToEmailLookup(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierPremium, Level: constants.LevelPaid, Status: "active", StripeCustomerID: "cus_1"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{},
	}
	deps.userRepo.getErrs["u1"] = fmt.Errorf("db timeout")
	uc := newTestUsecase(deps, nil)

	// uid 查询失败回落到邮箱查询，对账仍然完成
	cached, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1", Email: "Alice@Example.COM"}, biz.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", cached.Email)
	assert.False(t, r.Changed)
}

func TestRun_FreshCacheSkipsGateway(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierPremium, Level: constants.LevelPaid, Status: "active", StripeCustomerID: "cus_1"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{},
	}
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, deps.gateway.calls)
	assert.Equal(t, biz.SourceStripe, r.ProviderUsed)
	assert.False(t, r.Changed)
	assert.Empty(t, deps.userRepo.updates)
}

func TestRun_ForceProviderCheckBypassesCache(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierPremium, Level: constants.LevelPaid, Status: "active", StripeCustomerID: "cus_1"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway: &fakeStripeGateway{
			customerID: "cus_1",
			sub: &biz.StripeSubscription{
				SubscriptionID: "sub_1",
				CustomerID:     "cus_1",
				Status:         "active",
				PriceID:        "price_premium_m",
			},
		},
	}
	uc := newTestUsecase(deps, nil)

	_, _, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{ForceProviderCheck: true})
	require.NoError(t, err)
	assert.Equal(t, 1, deps.gateway.calls)
}

func TestRun_ProviderOutagePreservesPaidUser(t *testing.T) {
	// 缓存付费但客户ID为空，不满足短路条件，会触达渠道
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierPro, Level: constants.LevelPaid, Status: "active"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{err: fmt.Errorf("stripe unavailable")},
	}
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, deps.gateway.calls)
	// 渠道挂了也不能降级付费用户
	assert.Equal(t, biz.SourcePreserved, r.ProviderUsed)
	assert.Equal(t, biz.TierPro, r.FinalTier)
	assert.False(t, r.Changed)
	assert.Empty(t, deps.userRepo.updates)
}

func TestRun_NewStripePayerPersisted(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway: &fakeStripeGateway{
			customerID: "cus_1",
			sub: &biz.StripeSubscription{
				SubscriptionID: "sub_1",
				CustomerID:     "cus_1",
				Status:         "active",
				MetadataTier:   "pro",
			},
		},
	}
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{})
	require.NoError(t, err)
	assert.True(t, r.Changed)
	assert.Equal(t, biz.TierPro, r.FinalTier)
	assert.Equal(t, constants.LevelPaid, r.FinalLevel)
	assert.Equal(t, "cus_1", r.StripeCustomerID)

	// 落库 + 镜像记录 + 变更历史
	require.Len(t, deps.userRepo.updates, 1)
	assert.Equal(t, updateCall{uid: "u1", tier: biz.TierPro, level: constants.LevelPaid, status: "active", stripeCustomerID: "cus_1"}, deps.userRepo.updates[0])
	require.Len(t, deps.recordRepo.upserts, 1)
	assert.Equal(t, "sub_1", deps.recordRepo.upserts[0].ProviderSubscriptionID)
	assert.Equal(t, constants.ProviderStripe, deps.recordRepo.upserts[0].Provider)
	require.Len(t, deps.history.items, 1)
	assert.Equal(t, biz.TierFree, deps.history.items[0].OldTier)
	assert.Equal(t, biz.TierPro, deps.history.items[0].NewTier)
}

func TestRun_DryRunSkipsWrites(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway: &fakeStripeGateway{
			customerID: "cus_1",
			sub: &biz.StripeSubscription{
				SubscriptionID: "sub_1",
				CustomerID:     "cus_1",
				Status:         "active",
				PriceID:        "price_premium_m",
			},
		},
	}
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, r.Changed)
	assert.Equal(t, biz.TierPremium, r.FinalTier)
	assert.Empty(t, deps.userRepo.updates)
	assert.Empty(t, deps.recordRepo.upserts)
	assert.Empty(t, deps.history.items)
}

func TestRun_AppleMirrorWins(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{}, // Stripe 侧无客户
	}
	// 镜像表里一条过期记录和一条活跃记录，活跃优先
	deps.recordRepo.addApple("alice@example.com", &biz.SubscriptionRecord{ProviderSubscriptionID: "tx_old", Tier: biz.TierPro, Status: "expired"})
	deps.recordRepo.addApple("alice@example.com", &biz.SubscriptionRecord{ProviderSubscriptionID: "tx_new", Tier: biz.TierPremium, Status: "active"})
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, biz.SourceApple, r.ProviderUsed)
	assert.Equal(t, biz.TierPremium, r.FinalTier)
	assert.Equal(t, "active", r.FinalStatus)
}

func TestRun_AppleMirrorDefaultTier(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{},
	}
	// 镜像记录未带等级：默认 premium
	deps.recordRepo.addApple("alice@example.com", &biz.SubscriptionRecord{ProviderSubscriptionID: "tx_1", Status: "active"})
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, biz.TierPremium, r.FinalTier)
}

func TestRun_CustomerWithoutSubscriptionFillsCustomerID(t *testing.T) {
	user := &biz.UserEntitlement{UID: "u1", Email: "alice@example.com", Tier: biz.TierFree, Level: constants.LevelFree, Status: "inactive"}
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(user),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{},
		gateway:    &fakeStripeGateway{customerID: "cus_1"}, // 有客户但无订阅
	}
	uc := newTestUsecase(deps, nil)

	_, r, err := uc.Run(context.Background(), biz.Identity{UID: "u1"}, biz.ReconcileOptions{})
	require.NoError(t, err)
	// 三元组不变但发现了客户ID：计为变更并回填
	assert.True(t, r.Changed)
	assert.Equal(t, biz.TierFree, r.FinalTier)
	assert.Equal(t, "cus_1", r.StripeCustomerID)
	require.Len(t, deps.userRepo.updates, 1)
	assert.Equal(t, "cus_1", deps.userRepo.updates[0].stripeCustomerID)
}

func TestGetEntitlementHistory(t *testing.T) {
	deps := &ucDeps{
		userRepo:   newFakeUserRepo(),
		recordRepo: newFakeRecordRepo(),
		history:    &fakeHistoryRepo{items: []*biz.EntitlementHistory{{UID: "u1", NewTier: biz.TierPro}}},
		gateway:    &fakeStripeGateway{},
	}
	uc := newTestUsecase(deps, nil)

	items, total, err := uc.GetEntitlementHistory(context.Background(), "u1", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, biz.TierPro, items[0].NewTier)
}
