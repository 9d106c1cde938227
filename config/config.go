// config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config 主配置结构
type Config struct {
	Preparer PreparerConfig
	Relay    RelayConfig
	Retry    RetryConfig
	Confirm  ConfirmConfig
	Stage    StageConfig
	Bundle   BundleConfig
	Pipeline PipelineConfig
	Journal  JournalConfig
	Server   ServerConfig
}

// PreparerConfig 交易构造服务配置
type PreparerConfig struct {
	// 服务地址
	BaseURL string // "http://127.0.0.1:9800"

	// 各操作的构造端点
	CreatePath     string // "/build/create"
	DistributePath string // "/build/distribute"
	MixPath        string // "/build/mix"

	// 超时配置
	Timeout time.Duration // 30 * time.Second
}

// RelayConfig 捆绑包中继配置
type RelayConfig struct {
	// 服务地址与端点
	BaseURL    string // "http://127.0.0.1:9810"
	SubmitPath string // "/submit"
	StatusPath string // "/status"

	// 超时配置
	Timeout time.Duration // 15 * time.Second

	// HTTP/3 传输（关闭时走普通 HTTP/1.1）
	UseHTTP3            bool          // false
	QUICKeepAlivePeriod time.Duration // 10 * time.Second
	QUICMaxIdleTimeout  time.Duration // 5 * time.Minute
	QUICAllow0RTT       bool          // true
	InsecureSkipVerify  bool          // false（仅测试环境打开）

	// 重复提交防护
	RecentChunkCacheSize int // 4096
}

// RetryConfig 提交重试配置
type RetryConfig struct {
	// 次数上限
	MaxAttempts          int // 50
	MaxConsecutiveErrors int // 3

	// 退避配置
	BaseDelay    time.Duration // 500 * time.Millisecond
	MaxDelay     time.Duration // 30 * time.Second
	JitterFactor float64       // 0.15（退避乘以 1±0.15）

	// 多 chunk 之间的间隔
	InterChunkDelay time.Duration // 500 * time.Millisecond
}

// ConfirmConfig 落地确认配置
type ConfirmConfig struct {
	// 轮询配置
	Interval time.Duration // 2 * time.Second
	Timeout  time.Duration // 60 * time.Second

	// 超时仍未知时是否按已落地处理
	TreatUnknownAsLanded bool // true

	// 已落地结果缓存
	LandedCacheSize int // 1024
}

// StageConfig 分阶段执行配置
type StageConfig struct {
	// 阶段间隔
	InterStageDelay time.Duration // 1 * time.Second

	// 地址查找表激活等待
	ActivationWait time.Duration // 5 * time.Second

	// 激活策略："delay" 固定等待，"rpc" 轮询链上账户
	ActivationMode string // "delay"

	// rpc 模式配置
	RPCEndpoint            string        // "https://api.mainnet-beta.solana.com"
	ActivationPollInterval time.Duration // 1 * time.Second
	ActivationPollTimeout  time.Duration // 30 * time.Second
}

// BundleConfig 捆绑包切分配置
type BundleConfig struct {
	MaxEnvelopesPerChunk int // 5
}

// PipelineConfig 上层编排配置
type PipelineConfig struct {
	// 分发批次配置
	MaxRecipientsPerBatch int           // 3
	InterBatchDelay       time.Duration // 1 * time.Second

	// 各平台部署时允许的最大钱包数
	PlatformWalletCeilings map[string]int // {"pump": 20, "bonk": 15}
	DefaultWalletCeiling   int            // 20
}

// JournalConfig 运行日志持久化配置
type JournalConfig struct {
	Dir        string // "./data/journal"
	SyncWrites bool   // false
}

// ServerConfig 本地管理接口配置
type ServerConfig struct {
	Port      int           // 9820
	LocalOnly bool          // true
	Timeout   time.Duration // 60 * time.Second
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Preparer: PreparerConfig{
			BaseURL:        "http://127.0.0.1:9800",
			CreatePath:     "/build/create",
			DistributePath: "/build/distribute",
			MixPath:        "/build/mix",
			Timeout:        30 * time.Second,
		},
		Relay: RelayConfig{
			BaseURL:              "http://127.0.0.1:9810",
			SubmitPath:           "/submit",
			StatusPath:           "/status",
			Timeout:              15 * time.Second,
			UseHTTP3:             false,
			QUICKeepAlivePeriod:  10 * time.Second,
			QUICMaxIdleTimeout:   5 * time.Minute,
			QUICAllow0RTT:        true,
			InsecureSkipVerify:   false,
			RecentChunkCacheSize: 4096,
		},
		Retry: RetryConfig{
			MaxAttempts:          50,
			MaxConsecutiveErrors: 3,
			BaseDelay:            500 * time.Millisecond,
			MaxDelay:             30 * time.Second,
			JitterFactor:         0.15,
			InterChunkDelay:      500 * time.Millisecond,
		},
		Confirm: ConfirmConfig{
			Interval:             2 * time.Second,
			Timeout:              60 * time.Second,
			TreatUnknownAsLanded: true,
			LandedCacheSize:      1024,
		},
		Stage: StageConfig{
			InterStageDelay:        1 * time.Second,
			ActivationWait:         5 * time.Second,
			ActivationMode:         "delay",
			RPCEndpoint:            "https://api.mainnet-beta.solana.com",
			ActivationPollInterval: 1 * time.Second,
			ActivationPollTimeout:  30 * time.Second,
		},
		Bundle: BundleConfig{
			MaxEnvelopesPerChunk: 5,
		},
		Pipeline: PipelineConfig{
			MaxRecipientsPerBatch: 3,
			InterBatchDelay:       1 * time.Second,
			PlatformWalletCeilings: map[string]int{
				"pump": 20,
				"bonk": 15,
			},
			DefaultWalletCeiling: 20,
		},
		Journal: JournalConfig{
			Dir:        "./data/journal",
			SyncWrites: false,
		},
		Server: ServerConfig{
			Port:      9820,
			LocalOnly: true,
			Timeout:   60 * time.Second,
		},
	}
}

// LoadFromFile 从 YAML/JSON 文件加载配置，未设置的字段保留默认值
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// "500ms" / "2s" 这类字符串直接解析为 time.Duration
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, decodeHook); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 验证配置合法性
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("Retry.MaxAttempts must be positive")
	}
	if c.Retry.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("Retry.MaxConsecutiveErrors must be positive")
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor >= 1 {
		return fmt.Errorf("Retry.JitterFactor must be in [0, 1), got %v", c.Retry.JitterFactor)
	}
	if c.Bundle.MaxEnvelopesPerChunk <= 0 {
		return fmt.Errorf("Bundle.MaxEnvelopesPerChunk must be positive")
	}
	if c.Pipeline.MaxRecipientsPerBatch <= 0 {
		return fmt.Errorf("Pipeline.MaxRecipientsPerBatch must be positive")
	}
	if c.Confirm.Interval <= 0 {
		return fmt.Errorf("Confirm.Interval must be positive")
	}
	switch c.Stage.ActivationMode {
	case "", "delay", "rpc":
	default:
		return fmt.Errorf("Stage.ActivationMode must be \"delay\" or \"rpc\", got %q", c.Stage.ActivationMode)
	}
	return nil
}
