package data

import (
	"context"

	"xinyuan_tech/entitlement-service/internal/biz"
	"xinyuan_tech/entitlement-service/internal/constants"

	"github.com/go-kratos/kratos/v2/log"
)

// planCounter 兜底归类计数器实现（Redis 自增，观测用）
type planCounter struct {
	data *Data
	log  *log.Helper
}

// NewUnclassifiedPlanCounter 创建兜底归类计数器
func NewUnclassifiedPlanCounter(data *Data, logger log.Logger) biz.UnclassifiedPlanCounter {
	return &planCounter{
		data: data,
		log:  log.NewHelper(logger),
	}
}

// Incr 计数加一，失败只记日志不影响归类
func (c *planCounter) Incr(ctx context.Context) {
	if err := c.data.rdb.Incr(ctx, constants.UnclassifiedPlanCounterKey).Err(); err != nil {
		c.log.Warnf("Failed to incr unclassified plan counter: %v", err)
	}
}
