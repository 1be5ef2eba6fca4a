package conf

import (
	"fmt"
)

type Bootstrap struct {
	Server    *Server    `yaml:"server" json:"server"`
	Data      *Data      `yaml:"data" json:"data"`
	Stripe    *Stripe    `yaml:"stripe" json:"stripe"`
	Reconcile *Reconcile `yaml:"reconcile" json:"reconcile"`
	Log       *Log       `yaml:"log" json:"log"`
}

type Server struct {
	Http struct {
		Addr    string `yaml:"addr" json:"addr"`
		Timeout string `yaml:"timeout" json:"timeout"`
	} `yaml:"http" json:"http"`
}

type Data struct {
	Database struct {
		Driver          string `yaml:"driver" json:"driver"`
		Source          string `yaml:"source" json:"source"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	} `yaml:"database" json:"database"`
	Redis struct {
		Addr         string `yaml:"addr" json:"addr"`
		Password     string `yaml:"password" json:"password"`
		Db           int32  `yaml:"db" json:"db"`
		ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"redis" json:"redis"`
}

// Stripe 卡支付渠道配置
type Stripe struct {
	ApiKey string `yaml:"api_key" json:"api_key"`
	// PriceTiers 价格ID到订阅等级的映射表（price_xxx -> premium/pro）
	PriceTiers map[string]string `yaml:"price_tiers" json:"price_tiers"`
}

// Reconcile 权益对账配置
type Reconcile struct {
	// BatchSizeCap 单次批量对账的最大用户数（限制单次调用的执行时长）
	BatchSizeCap int `yaml:"batch_size_cap" json:"batch_size_cap"`
	// DefaultBatchSize 未指定时的默认批量大小
	DefaultBatchSize int `yaml:"default_batch_size" json:"default_batch_size"`
	// ProviderTimeout 单次外部渠道调用的超时时间
	ProviderTimeout string `yaml:"provider_timeout" json:"provider_timeout"`
	// BatchDeadline 单次批量对账的总时间预算，超出后剩余行留给下一轮
	BatchDeadline string `yaml:"batch_deadline" json:"batch_deadline"`
}

type Log struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"`
	Output     string `yaml:"output" json:"output"`
	FilePath   string `yaml:"file_path" json:"file_path"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Validate validates the configuration
func (b *Bootstrap) Validate() error {
	if b.Server == nil {
		return fmt.Errorf("server configuration is required")
	}
	if b.Server.Http.Addr == "" {
		return fmt.Errorf("server.http.addr is required")
	}
	if b.Data == nil {
		return fmt.Errorf("data configuration is required")
	}
	if b.Data.Database.Source == "" {
		return fmt.Errorf("data.database.source is required")
	}
	if b.Stripe == nil || b.Stripe.ApiKey == "" {
		return fmt.Errorf("stripe.api_key is required")
	}
	if b.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	return nil
}
