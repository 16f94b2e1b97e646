package diagnostics

import (
	"testing"

	"github.com/BaSui01/chatwidget/streaming/connection"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		in   ScoreInput
		want float64
	}{
		{name: "no data", in: ScoreInput{Stability: 1}, want: 100},
		{name: "excellent", in: ScoreInput{HasQuality: true, Quality: connection.QualityExcellent, Stability: 1}, want: 100},
		{name: "good", in: ScoreInput{HasQuality: true, Quality: connection.QualityGood, Stability: 1}, want: 94},
		{name: "fair", in: ScoreInput{HasQuality: true, Quality: connection.QualityFair, Stability: 1}, want: 84},
		{name: "offline", in: ScoreInput{HasQuality: true, Quality: connection.QualityOffline, Stability: 1}, want: 60},
		{name: "half stability", in: ScoreInput{Stability: 0.5}, want: 87.5},
		{
			name: "failure ratios",
			in:   ScoreInput{Stability: 1, ConnectionSuccesses: 1, ConnectionFailures: 1, SessionsCompleted: 3, SessionsFailed: 1},
			want: 86.25,
		},
		{name: "boundary open", in: ScoreInput{Stability: 1, BoundaryOpen: true}, want: 50},
		{name: "stability clamped", in: ScoreInput{Stability: 7}, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.in), 0.06)
		})
	}
}

func TestQualityScore_Monotonic(t *testing.T) {
	prev := 2.0
	for q := connection.QualityExcellent; q <= connection.QualityOffline; q++ {
		s := QualityScore(q)
		assert.Less(t, s, prev, q.String())
		prev = s
	}
}

func TestProperty_ScoreBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := ScoreInput{
			HasQuality:          rapid.Bool().Draw(t, "has_quality"),
			Quality:             connection.Quality(rapid.IntRange(0, 5).Draw(t, "quality")),
			Stability:           rapid.Float64Range(-1, 2).Draw(t, "stability"),
			ConnectionSuccesses: rapid.Int64Range(0, 1000).Draw(t, "conn_ok"),
			ConnectionFailures:  rapid.Int64Range(0, 1000).Draw(t, "conn_failed"),
			SessionsCompleted:   rapid.Int64Range(0, 1000).Draw(t, "sess_ok"),
			SessionsFailed:      rapid.Int64Range(0, 1000).Draw(t, "sess_failed"),
		}

		closed := Score(in)
		if closed < 0 || closed > 100 {
			t.Fatalf("score out of range: %v", closed)
		}

		in.BoundaryOpen = true
		open := Score(in)
		if open > 50 || open > closed {
			t.Fatalf("open boundary must halve the score: closed=%v open=%v", closed, open)
		}
	})
}
