package diagnostics

import (
	"math"

	"github.com/BaSui01/chatwidget/streaming/connection"
)

// 健康分各分项权重，合计为 1
const (
	weightQuality    = 0.40
	weightStability  = 0.25
	weightConnection = 0.20
	weightSessions   = 0.15

	// boundaryPenalty 错误边界打开时的整体系数
	boundaryPenalty = 0.5
)

// ScoreInput 健康分计算输入
type ScoreInput struct {
	HasQuality          bool
	Quality             connection.Quality
	Stability           float64
	ConnectionSuccesses int64
	ConnectionFailures  int64
	SessionsCompleted   int64
	SessionsFailed      int64
	BoundaryOpen        bool
}

// QualityScore 返回质量等级对应的分值（0–1）
func QualityScore(q connection.Quality) float64 {
	switch q {
	case connection.QualityExcellent:
		return 1
	case connection.QualityGood:
		return 0.85
	case connection.QualityFair:
		return 0.6
	case connection.QualityPoor:
		return 0.35
	case connection.QualityCritical:
		return 0.15
	default:
		return 0
	}
}

// ratio 返回成功率，没有样本时视为 1
func ratio(ok, failed int64) float64 {
	total := ok + failed
	if total <= 0 {
		return 1
	}
	return float64(ok) / float64(total)
}

// Score 计算 0–100 的综合健康分：质量等级、稳定性、连接成功率、会话成功率加权，
// 错误边界打开时整体减半。纯函数。
func Score(in ScoreInput) float64 {
	quality := 1.0
	if in.HasQuality {
		quality = QualityScore(in.Quality)
	}
	stability := math.Max(0, math.Min(1, in.Stability))
	if math.IsNaN(in.Stability) {
		stability = 0
	}

	s := weightQuality*quality +
		weightStability*stability +
		weightConnection*ratio(in.ConnectionSuccesses, in.ConnectionFailures) +
		weightSessions*ratio(in.SessionsCompleted, in.SessionsFailed)
	if in.BoundaryOpen {
		s *= boundaryPenalty
	}
	return math.Round(s*1000) / 10
}
