package connection

import (
	"fmt"
	"time"

	"github.com/BaSui01/chatwidget/types"
)

// State 连接状态
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateTerminated   State = "terminated"
)

// transitions 允许的状态迁移。
// 首次建连失败回到 disconnected；failed 可由 Connect 或 Reconnect(force) 恢复。
var transitions = map[State][]State{
	StateDisconnected: {StateConnecting, StateTerminated},
	StateConnecting:   {StateConnected, StateDisconnected, StateTerminated},
	StateConnected:    {StateStreaming, StateReconnecting, StateDisconnected, StateTerminated},
	StateStreaming:    {StateConnected, StateReconnecting, StateDisconnected, StateTerminated},
	StateReconnecting: {StateConnected, StateFailed, StateDisconnected, StateTerminated},
	StateFailed:       {StateConnecting, StateReconnecting, StateDisconnected, StateTerminated},
	StateTerminated:   {},
}

// CanTransition 报告 from -> to 是否合法
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsLive 报告状态下是否持有可用的物理连接
func (s State) IsLive() bool {
	return s == StateConnected || s == StateStreaming
}

func invalidTransition(from, to State) error {
	return types.NewError(types.ErrInvalidState, fmt.Sprintf("illegal connection transition %s -> %s", from, to))
}

// Quality 基于延迟的连接质量等级，数值越大越差
type Quality int

const (
	QualityExcellent Quality = iota
	QualityGood
	QualityFair
	QualityPoor
	QualityCritical
	QualityOffline
)

func (q Quality) String() string {
	switch q {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityCritical:
		return "critical"
	case QualityOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// ParseQuality 解析质量等级名称
func ParseQuality(s string) (Quality, bool) {
	for q := QualityExcellent; q <= QualityOffline; q++ {
		if q.String() == s {
			return q, true
		}
	}
	return QualityOffline, false
}

// Thresholds 各等级的延迟上限（含）
type Thresholds struct {
	Excellent time.Duration `yaml:"excellent" json:"excellent"`
	Good      time.Duration `yaml:"good" json:"good"`
	Fair      time.Duration `yaml:"fair" json:"fair"`
	Poor      time.Duration `yaml:"poor" json:"poor"`
}

// DefaultThresholds 返回默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent: 100 * time.Millisecond,
		Good:      300 * time.Millisecond,
		Fair:      1000 * time.Millisecond,
		Poor:      2000 * time.Millisecond,
	}
}

// Classify 把一次往返延迟映射到质量等级
func (t Thresholds) Classify(latency time.Duration) Quality {
	switch {
	case latency < 0:
		return QualityOffline
	case latency <= t.Excellent:
		return QualityExcellent
	case latency <= t.Good:
		return QualityGood
	case latency <= t.Fair:
		return QualityFair
	case latency <= t.Poor:
		return QualityPoor
	default:
		return QualityCritical
	}
}

// Validate 校验阈值单调递增
func (t Thresholds) Validate() error {
	if t.Excellent <= 0 || t.Good < t.Excellent || t.Fair < t.Good || t.Poor < t.Fair {
		return fmt.Errorf("quality thresholds must be positive and non-decreasing")
	}
	return nil
}

// Measurement 一次质量测量
type Measurement struct {
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	Jitter     time.Duration `json:"jitter"`
	PacketLoss float64       `json:"packet_loss"`
	Stability  float64       `json:"stability"`
	Quality    Quality       `json:"quality"`
}
