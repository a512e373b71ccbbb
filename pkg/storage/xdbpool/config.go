package xdbpool

import (
	"fmt"
	"time"
)

// Config 是连接池与生命周期管理器共用的扁平配置。
//
// 值类型，可安全复制；运行时通过 Pool.UpdateConfiguration 整体替换。
// 各循环间隔（ScaleInterval、ValidationInterval、CleanupInterval、
// HealthCheckInterval、ResourceCheckInterval）为 0 时对应循环暂停；
// IdleTimeout、MaxLifetime 为 0 时不限制。
type Config struct {
	// 容量
	MinConnections      int `koanf:"min_connections"`
	MaxConnections      int `koanf:"max_connections"`
	ConnectionIncrement int `koanf:"connection_increment"`

	// 获取与创建
	AcquireTimeout      time.Duration `koanf:"acquire_timeout"`
	AcquirePollInterval time.Duration `koanf:"acquire_poll_interval"`
	ConnectionTimeout   time.Duration `koanf:"connection_timeout"`

	// 过期
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	MaxLifetime time.Duration `koanf:"max_lifetime"`

	// 验证
	ValidationQuery   string        `koanf:"validation_query"`
	ValidationTimeout time.Duration `koanf:"validation_timeout"`
	TestOnBorrow      bool          `koanf:"test_on_borrow"`
	TestOnReturn      bool          `koanf:"test_on_return"`
	TestWhileIdle     bool          `koanf:"test_while_idle"`

	// 伸缩
	ScaleInterval      time.Duration `koanf:"scale_interval"`
	ScaleUpThreshold   float64       `koanf:"scale_up_threshold"`
	ScaleDownThreshold float64       `koanf:"scale_down_threshold"`
	ScaleUpCooldown    time.Duration `koanf:"scale_up_cooldown"`
	ScaleDownCooldown  time.Duration `koanf:"scale_down_cooldown"`

	// 生命周期循环
	ValidationInterval    time.Duration `koanf:"validation_interval"`
	CleanupInterval       time.Duration `koanf:"cleanup_interval"`
	HealthCheckInterval   time.Duration `koanf:"health_check_interval"`
	ResourceCheckInterval time.Duration `koanf:"resource_check_interval"`
	MaxValidationFailures int           `koanf:"max_validation_failures"`
	CleanupBatchSize      int           `koanf:"cleanup_batch_size"`
	MemoryThresholdMB     int           `koanf:"memory_threshold_mb"`

	// 恢复
	AutoRecovery      bool          `koanf:"auto_recovery"`
	RecoveryAttempts  int           `koanf:"recovery_attempts"`
	RecoveryDelay     time.Duration `koanf:"recovery_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
	MaxRecoveryDelay  time.Duration `koanf:"max_recovery_delay"`

	// 关闭
	GracefulShutdown bool          `koanf:"graceful_shutdown"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// 默认配置值。
const (
	DefaultMinConnections        = 2
	DefaultMaxConnections        = 10
	DefaultConnectionIncrement   = 2
	DefaultAcquireTimeout        = 5 * time.Second
	DefaultAcquirePollInterval   = 100 * time.Millisecond
	DefaultConnectionTimeout     = 10 * time.Second
	DefaultIdleTimeout           = 10 * time.Minute
	DefaultMaxLifetime           = time.Hour
	DefaultValidationQuery       = "SELECT 1"
	DefaultValidationTimeout     = 3 * time.Second
	DefaultScaleInterval         = 10 * time.Second
	DefaultScaleUpThreshold      = 0.8
	DefaultScaleDownThreshold    = 0.2
	DefaultScaleUpCooldown       = 30 * time.Second
	DefaultScaleDownCooldown     = 60 * time.Second
	DefaultValidationInterval    = 30 * time.Second
	DefaultCleanupInterval       = time.Minute
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultMaxValidationFailures = 3
	DefaultCleanupBatchSize      = 5
	DefaultMemoryThresholdMB     = 256
	DefaultRecoveryAttempts      = 3
	DefaultRecoveryDelay         = time.Second
	DefaultBackoffMultiplier     = 2.0
	DefaultMaxRecoveryDelay      = 30 * time.Second
	DefaultShutdownTimeout       = 30 * time.Second
)

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		MinConnections:        DefaultMinConnections,
		MaxConnections:        DefaultMaxConnections,
		ConnectionIncrement:   DefaultConnectionIncrement,
		AcquireTimeout:        DefaultAcquireTimeout,
		AcquirePollInterval:   DefaultAcquirePollInterval,
		ConnectionTimeout:     DefaultConnectionTimeout,
		IdleTimeout:           DefaultIdleTimeout,
		MaxLifetime:           DefaultMaxLifetime,
		ValidationQuery:       DefaultValidationQuery,
		ValidationTimeout:     DefaultValidationTimeout,
		TestWhileIdle:         true,
		ScaleInterval:         DefaultScaleInterval,
		ScaleUpThreshold:      DefaultScaleUpThreshold,
		ScaleDownThreshold:    DefaultScaleDownThreshold,
		ScaleUpCooldown:       DefaultScaleUpCooldown,
		ScaleDownCooldown:     DefaultScaleDownCooldown,
		ValidationInterval:    DefaultValidationInterval,
		CleanupInterval:       DefaultCleanupInterval,
		HealthCheckInterval:   DefaultHealthCheckInterval,
		MaxValidationFailures: DefaultMaxValidationFailures,
		CleanupBatchSize:      DefaultCleanupBatchSize,
		MemoryThresholdMB:     DefaultMemoryThresholdMB,
		AutoRecovery:          true,
		RecoveryAttempts:      DefaultRecoveryAttempts,
		RecoveryDelay:         DefaultRecoveryDelay,
		BackoffMultiplier:     DefaultBackoffMultiplier,
		MaxRecoveryDelay:      DefaultMaxRecoveryDelay,
		GracefulShutdown:      true,
		ShutdownTimeout:       DefaultShutdownTimeout,
	}
}

// WithDefaults 返回填充了默认值的副本。
//
// 只填充零值非法的字段；零值有含义的字段（循环间隔、冷却时间、
// IdleTimeout、MaxLifetime、布尔开关）保持不变。
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ConnectionIncrement == 0 {
		c.ConnectionIncrement = d.ConnectionIncrement
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = d.AcquireTimeout
	}
	if c.AcquirePollInterval == 0 {
		c.AcquirePollInterval = d.AcquirePollInterval
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.ValidationQuery == "" {
		c.ValidationQuery = d.ValidationQuery
	}
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = d.ValidationTimeout
	}
	if c.ScaleUpThreshold == 0 {
		c.ScaleUpThreshold = d.ScaleUpThreshold
	}
	if c.MaxValidationFailures == 0 {
		c.MaxValidationFailures = d.MaxValidationFailures
	}
	if c.CleanupBatchSize == 0 {
		c.CleanupBatchSize = d.CleanupBatchSize
	}
	if c.MemoryThresholdMB == 0 {
		c.MemoryThresholdMB = d.MemoryThresholdMB
	}
	if c.RecoveryAttempts == 0 {
		c.RecoveryAttempts = d.RecoveryAttempts
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

// Validate 校验配置，失败时返回包装了 ErrInvalidConfig 的错误。
func (c Config) Validate() error {
	switch {
	case c.MaxConnections < 1:
		return invalid("max_connections must be >= 1, got %d", c.MaxConnections)
	case c.MinConnections < 0:
		return invalid("min_connections must be >= 0, got %d", c.MinConnections)
	case c.MinConnections > c.MaxConnections:
		return invalid("min_connections (%d) > max_connections (%d)", c.MinConnections, c.MaxConnections)
	case c.ConnectionIncrement < 1:
		return invalid("connection_increment must be >= 1, got %d", c.ConnectionIncrement)
	case c.AcquireTimeout <= 0:
		return invalid("acquire_timeout must be > 0, got %s", c.AcquireTimeout)
	case c.AcquirePollInterval <= 0:
		return invalid("acquire_poll_interval must be > 0, got %s", c.AcquirePollInterval)
	case c.ConnectionTimeout <= 0:
		return invalid("connection_timeout must be > 0, got %s", c.ConnectionTimeout)
	case c.ValidationQuery == "":
		return invalid("validation_query is empty")
	case c.ValidationTimeout <= 0:
		return invalid("validation_timeout must be > 0, got %s", c.ValidationTimeout)
	case c.ScaleUpThreshold < 0 || c.ScaleUpThreshold > 1:
		return invalid("scale_up_threshold must be in [0,1], got %v", c.ScaleUpThreshold)
	case c.ScaleDownThreshold < 0 || c.ScaleDownThreshold > 1:
		return invalid("scale_down_threshold must be in [0,1], got %v", c.ScaleDownThreshold)
	case c.ScaleDownThreshold > c.ScaleUpThreshold:
		return invalid("scale_down_threshold (%v) > scale_up_threshold (%v)", c.ScaleDownThreshold, c.ScaleUpThreshold)
	case c.MaxValidationFailures < 1:
		return invalid("max_validation_failures must be >= 1, got %d", c.MaxValidationFailures)
	case c.CleanupBatchSize < 1:
		return invalid("cleanup_batch_size must be >= 1, got %d", c.CleanupBatchSize)
	case c.MemoryThresholdMB < 0:
		return invalid("memory_threshold_mb must be >= 0, got %d", c.MemoryThresholdMB)
	case c.RecoveryAttempts < 1:
		return invalid("recovery_attempts must be >= 1, got %d", c.RecoveryAttempts)
	case c.BackoffMultiplier < 1:
		return invalid("backoff_multiplier must be >= 1, got %v", c.BackoffMultiplier)
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"idle_timeout", c.IdleTimeout},
		{"max_lifetime", c.MaxLifetime},
		{"scale_interval", c.ScaleInterval},
		{"scale_up_cooldown", c.ScaleUpCooldown},
		{"scale_down_cooldown", c.ScaleDownCooldown},
		{"validation_interval", c.ValidationInterval},
		{"cleanup_interval", c.CleanupInterval},
		{"health_check_interval", c.HealthCheckInterval},
		{"resource_check_interval", c.ResourceCheckInterval},
		{"recovery_delay", c.RecoveryDelay},
		{"max_recovery_delay", c.MaxRecoveryDelay},
		{"shutdown_timeout", c.ShutdownTimeout},
	} {
		if d.value < 0 {
			return invalid("%s must be >= 0, got %s", d.name, d.value)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
