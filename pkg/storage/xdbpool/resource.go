package xdbpool

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// 内存估算参数。
const (
	// DefaultConnectionFootprint 是估算模式下每个连接的内存占用。
	DefaultConnectionFootprint = 64 << 10
	// metricsOverhead 是估算模式下池自身统计结构的固定开销。
	metricsOverhead = 256 << 10
)

// MemorySampler 采样当前内存占用（字节）。
type MemorySampler interface {
	SampleMemory(ctx context.Context) (uint64, error)
}

// MemorySamplerFunc 是函数形式的 MemorySampler。
type MemorySamplerFunc func(ctx context.Context) (uint64, error)

// SampleMemory 实现 MemorySampler。
func (f MemorySamplerFunc) SampleMemory(ctx context.Context) (uint64, error) {
	return f(ctx)
}

// ProcessMemorySampler 读取当前进程的 RSS。
type ProcessMemorySampler struct {
	proc *process.Process
}

var _ MemorySampler = (*ProcessMemorySampler)(nil)

// NewProcessMemorySampler 创建当前进程的 RSS 采样器。
func NewProcessMemorySampler() (*ProcessMemorySampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid 不会超出 int32
	if err != nil {
		return nil, fmt.Errorf("xdbpool: open process: %w", err)
	}
	return &ProcessMemorySampler{proc: proc}, nil
}

// SampleMemory 实现 MemorySampler。
func (s *ProcessMemorySampler) SampleMemory(ctx context.Context) (uint64, error) {
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("xdbpool: sample process memory: %w", err)
	}
	return info.RSS, nil
}

// ResourceReport 是一次资源检查的结果。
type ResourceReport struct {
	// Bytes 是估算或采样得到的内存占用。
	Bytes uint64
	// Sampled 为 true 表示 Bytes 来自 MemorySampler，否则为估算值。
	Sampled     bool
	ThresholdMB int
	Exceeded    bool
}

// MB 返回以 MiB 为单位的内存占用。
func (r ResourceReport) MB() float64 {
	return float64(r.Bytes) / (1 << 20)
}
