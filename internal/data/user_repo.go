package data

import (
	"context"
	"errors"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/data/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// userRepo 用户仓库实现
type userRepo struct {
	data *Data
	log  *log.Helper
}

// NewUserRepo 创建用户仓库
func NewUserRepo(data *Data, logger log.Logger) biz.UserRepo {
	return &userRepo{
		data: data,
		log:  log.NewHelper(logger),
	}
}

func toUserEntitlement(m *model.User) *biz.UserEntitlement {
	return &biz.UserEntitlement{
		UID:              m.UID,
		Email:            m.Email,
		Tier:             biz.Tier(m.Tier),
		Level:            m.Level,
		Status:           m.Status,
		StripeCustomerID: m.StripeCustomerID,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// GetUser 按 uid 获取用户
func (r *userRepo) GetUser(ctx context.Context, uid string) (*biz.UserEntitlement, error) {
	var m model.User
	err := r.data.db.WithContext(ctx).Where("uid = ?", uid).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to get user %s: %v", uid, err)
		return nil, err
	}
	return toUserEntitlement(&m), nil
}

// FindUserByEmail 按归一化邮箱获取用户
func (r *userRepo) FindUserByEmail(ctx context.Context, email string) (*biz.UserEntitlement, error) {
	var m model.User
	err := r.data.db.WithContext(ctx).Where("email = ?", biz.NormalizeEmail(email)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		r.log.Errorf("Failed to find user by email %s: %v", email, err)
		return nil, err
	}
	return toUserEntitlement(&m), nil
}

// ListUsers 按邮箱升序分页，cursor 为上一页最后一个用户的邮箱
func (r *userRepo) ListUsers(ctx context.Context, limit int, cursor string) ([]*biz.UserEntitlement, error) {
	var models []model.User
	query := r.data.db.WithContext(ctx).Order("email ASC").Limit(limit)
	if cursor != "" {
		query = query.Where("email > ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		r.log.Errorf("Failed to list users (cursor=%s): %v", cursor, err)
		return nil, err
	}

	users := make([]*biz.UserEntitlement, len(models))
	for i := range models {
		users[i] = toUserEntitlement(&models[i])
	}
	return users, nil
}

// UpdateEntitlement 受保护写入权益字段
// tier/level/status 无条件更新；stripe_customer_id 仅在当前为空时写入，
// 保证一旦写入就不会被清空或覆盖（单调不变式）。
func (r *userRepo) UpdateEntitlement(ctx context.Context, uid string, tier biz.Tier, level, status, stripeCustomerID string) error {
	updates := map[string]interface{}{
		"tier":   string(tier),
		"level":  level,
		"status": status,
	}
	if stripeCustomerID != "" {
		updates["stripe_customer_id"] = gorm.Expr(
			"IF(stripe_customer_id IS NULL OR stripe_customer_id = '', ?, stripe_customer_id)",
			stripeCustomerID,
		)
	}

	if err := r.data.db.WithContext(ctx).Model(&model.User{}).
		Where("uid = ?", uid).
		Updates(updates).Error; err != nil {
		r.log.Errorf("Failed to update entitlement for user %s: %v", uid, err)
		return err
	}
	return nil
}
