package processor

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func chunk(session string, seq int64, content string) Chunk {
	return Chunk{SessionID: session, Sequence: seq, Content: content, Timestamp: t0.Add(time.Duration(seq) * 100 * time.Millisecond)}
}

func newTestProcessor() *Processor {
	return New(DefaultConfig(), zap.NewNop()).WithClock(func() time.Time { return t0 })
}

func TestValidateChunk(t *testing.T) {
	p := newTestProcessor()

	tests := []struct {
		name      string
		chunk     Chunk
		wantValid bool
		wantWarn  bool
	}{
		{"valid", chunk("s", 1, "hi"), true, false},
		{"missing session", chunk("", 1, "hi"), false, false},
		{"zero sequence", chunk("s", 0, "hi"), false, false},
		{"negative sequence", chunk("s", -3, "hi"), false, false},
		{"empty payload", chunk("s", 1, ""), false, false},
		{"empty final chunk", Chunk{SessionID: "s", Sequence: 1, IsFinal: true}, true, true},
		{"first chunk skips ahead", chunk("s", 3, "x"), true, true},
		{"oversized", chunk("s", 1, strings.Repeat("a", DefaultConfig().MaxChunkSize+1)), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ValidateChunk(tt.chunk)
			assert.Equal(t, tt.wantValid, res.Valid, res.Errors)
			assert.Equal(t, tt.wantWarn, len(res.Warnings) > 0, res.Warnings)
			if !tt.wantValid {
				assert.NotEmpty(t, res.Error())
			}
		})
	}

	assert.Equal(t, int64(0), p.Stats().Processed, "validation never mutates state")
}

func TestProcessChunk_Ordering(t *testing.T) {
	p := newTestProcessor()

	_, res := p.ProcessChunk(chunk("s", 1, "a"))
	require.True(t, res.Valid)
	_, res = p.ProcessChunk(chunk("s", 2, "b"))
	require.True(t, res.Valid)

	_, res = p.ProcessChunk(chunk("s", 2, "b"))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error(), "duplicate")

	_, res = p.ProcessChunk(chunk("s", 1, "a"))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error(), "out-of-order")

	_, res = p.ProcessChunk(chunk("s", 4, "d"))
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)

	// 迟到的 3 不会被重排
	_, res = p.ProcessChunk(chunk("s", 3, "c"))
	assert.False(t, res.Valid)

	stats := p.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(3), stats.Rejected)
	assert.Equal(t, int64(3), stats.Bytes)
	assert.Equal(t, 1, stats.ActiveBuffers)
	assert.Equal(t, int64(5), p.NextSequence("s"))
}

func TestProcessChunk_SessionsAreIndependent(t *testing.T) {
	p := newTestProcessor()

	_, r1 := p.ProcessChunk(chunk("a", 1, "x"))
	_, r2 := p.ProcessChunk(chunk("b", 1, "y"))
	assert.True(t, r1.Valid)
	assert.True(t, r2.Valid)
	assert.Equal(t, int64(1), p.LastSequence("a"))
	assert.Equal(t, int64(0), p.LastSequence("unknown"))
}

func TestProcessChunk_FinalSealsBuffer(t *testing.T) {
	p := newTestProcessor()

	_, res := p.ProcessChunk(Chunk{SessionID: "s", Sequence: 1, Content: "done", IsFinal: true})
	require.True(t, res.Valid)
	assert.True(t, p.Sealed("s"))

	_, res = p.ProcessChunk(chunk("s", 2, "late"))
	assert.False(t, res.Valid)
	assert.Contains(t, res.Error(), ErrBufferSealed.Error())
}

func TestSeal_RejectsLaterChunks(t *testing.T) {
	p := newTestProcessor()
	p.ProcessChunk(chunk("s", 1, "a"))
	p.Seal("s")

	_, res := p.ProcessChunk(chunk("s", 2, "b"))
	assert.False(t, res.Valid)

	p.Release("s")
	assert.False(t, p.Sealed("s"))
	assert.Nil(t, p.Chunks("s"))
}

func TestProcessChunk_Normalizes(t *testing.T) {
	p := newTestProcessor()
	pc, res := p.ProcessChunk(chunk("s", 1, "\uFEFFline1\r\nline2\x00\r"))
	require.True(t, res.Valid)
	assert.Equal(t, "line1\nline2", pc.Content)
	assert.Equal(t, len("line1\nline2"), pc.Size)
	assert.GreaterOrEqual(t, pc.ProcessingTime, time.Duration(0))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "a\nb", Normalize("a\r\nb"))
	assert.Equal(t, "ab", Normalize("a\x00b"))
	assert.Equal(t, "a\uFFFDb", Normalize("a\xffb"))
}

func TestAssembleMessage(t *testing.T) {
	text, err := AssembleMessage([]Chunk{chunk("s", 2, "llo"), chunk("s", 1, "He"), chunk("s", 3, " world")})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)

	_, err = AssembleMessage([]Chunk{chunk("s", 1, "a"), chunk("s", 4, "d")})
	var gap *GapError
	require.True(t, errors.As(err, &gap))
	assert.Equal(t, []int64{2, 3}, gap.Missing)
	assert.Equal(t, "s", gap.SessionID)

	_, err = AssembleMessage(nil)
	assert.ErrorIs(t, err, ErrEmptyChunkSet)
}

func TestAssemble_FromBuffer(t *testing.T) {
	p := newTestProcessor()
	for i, part := range []string{"He", "llo", " world"} {
		_, res := p.ProcessChunk(chunk("s", int64(i+1), part))
		require.True(t, res.Valid)
	}
	text, err := p.Assemble("s")
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)

	text, err = p.Assemble("missing")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestAssemble_LeadingGap(t *testing.T) {
	p := newTestProcessor()
	p.ProcessChunk(chunk("s", 3, "c"))

	_, err := p.Assemble("s")
	var gap *GapError
	require.ErrorAs(t, err, &gap)
	assert.Equal(t, []int64{1, 2}, gap.Missing)
}

func TestAssembleContiguous(t *testing.T) {
	p := newTestProcessor()
	p.ProcessChunk(chunk("s", 1, "a"))
	p.ProcessChunk(chunk("s", 2, "b"))
	p.ProcessChunk(chunk("s", 5, "e"))

	text, n := p.AssembleContiguous("s")
	assert.Equal(t, "ab", text)
	assert.Equal(t, 2, n)
}

func TestHandlePartialMessage(t *testing.T) {
	p := New(Config{StallAfter: time.Second}, nil).WithClock(func() time.Time { return t0.Add(2 * time.Second) })

	status := p.HandlePartialMessage([]Chunk{chunk("s", 1, "a"), chunk("s", 2, "b"), chunk("s", 5, "e")})
	assert.Equal(t, 3, status.Received)
	assert.Equal(t, int64(5), status.HighestSequence)
	assert.Equal(t, []int64{3, 4}, status.Missing)
	assert.False(t, status.Complete)
	// 100ms..500ms 之间 3 个 chunk → 平均 200ms；缺 2 个 + 未收到 final
	assert.Equal(t, 200*time.Millisecond, status.AverageInterval)
	assert.Equal(t, 600*time.Millisecond, status.EstimatedCompletion)
	assert.Equal(t, 1500*time.Millisecond, status.SinceLastChunk)
	assert.True(t, status.Stalled)
}

func TestHandlePartialMessage_Complete(t *testing.T) {
	final := chunk("s", 2, "b")
	final.IsFinal = true

	status := EstimatePartial([]Chunk{chunk("s", 1, "a"), final}, t0, time.Second)
	assert.True(t, status.Complete)
	assert.Empty(t, status.Missing)
	assert.Zero(t, status.EstimatedCompletion)
	assert.False(t, status.Stalled)

	empty := EstimatePartial(nil, t0, time.Second)
	assert.Zero(t, empty.Received)
}

func TestReset(t *testing.T) {
	p := newTestProcessor()
	p.ProcessChunk(chunk("a", 1, "x"))
	p.ProcessChunk(chunk("b", 1, "y"))
	p.Reset()
	assert.Equal(t, 0, p.Stats().ActiveBuffers)
}

// 任意分批投递的连续 chunk 组装结果等于按序拼接
func TestProperty_AssembleConcatenatesInOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		parts := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{1,8}`), 1, 40).Draw(rt, "parts")

		chunks := make([]Chunk, len(parts))
		for i, part := range parts {
			chunks[i] = chunk("s", int64(i+1), part)
		}
		shuffled := rapid.Permutation(chunks).Draw(rt, "delivery")

		text, err := AssembleMessage(shuffled)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if want := strings.Join(parts, ""); text != want {
			rt.Fatalf("got %q want %q", text, want)
		}

		p := New(DefaultConfig(), nil)
		batch := rapid.IntRange(1, len(parts)).Draw(rt, "batch")
		for start := 0; start < len(chunks); start += batch {
			end := min(start+batch, len(chunks))
			for _, c := range chunks[start:end] {
				if _, res := p.ProcessChunk(c); !res.Valid {
					rt.Fatalf("chunk %d rejected: %v", c.Sequence, res.Errors)
				}
			}
		}
		got, err := p.Assemble("s")
		if err != nil || got != strings.Join(parts, "") {
			rt.Fatalf("buffer assemble got %q err %v", got, err)
		}
	})
}
