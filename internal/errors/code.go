package errors

import (
	pkgErrors "github.com/gaoyong06/go-pkg/errors"
	i18nPkg "github.com/gaoyong06/go-pkg/middleware/i18n"
)

func init() {
	// 初始化全局错误管理器（使用项目特定的配置）
	pkgErrors.InitGlobalErrorManager("i18n", i18nPkg.Language)
}

// 权益服务错误码定义
// 错误码格式：SSMMEE (6位数字)，其中 SS=14 表示 entitlement-service
// 模块划分：
//   01: 用户模块
//   02: 对账模块
//   03: 批量任务模块
//   04: 渠道模块

// 用户模块 (140100-140199)
const (
	// ErrCodeUserNotFound 用户不存在错误
	ErrCodeUserNotFound = 140101
	// ErrCodeEmailRequired 缺少邮箱参数错误
	ErrCodeEmailRequired = 140102
)

// 对账模块 (140200-140299)
const (
	// ErrCodeReconcileLockBusy 该用户的对账正在进行中
	ErrCodeReconcileLockBusy = 140201
	// ErrCodePersistFailed 对账结果落库失败
	ErrCodePersistFailed = 140202
)

// 批量任务模块 (140300-140399)
const (
	// ErrCodeBatchSizeInvalid 批量大小参数无效错误
	ErrCodeBatchSizeInvalid = 140301
	// ErrCodeListUsersFailed 用户分页查询失败（整批中止）
	ErrCodeListUsersFailed = 140302
)

// 渠道模块 (140400-140499)
const (
	// ErrCodeStripeInitFailed 卡支付渠道客户端初始化失败
	ErrCodeStripeInitFailed = 140401
)
