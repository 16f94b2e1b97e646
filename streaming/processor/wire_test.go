package processor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Frame
	}{
		{
			name: "text envelope",
			raw:  `{"type":"text","content":"Hi","session_id":"s1","message_id":"m1","sequence":2}`,
			want: Frame{Type: FrameText, Content: "Hi", SessionID: "s1", MessageID: "m1", Sequence: 2},
		},
		{
			name: "error envelope",
			raw:  `{"type":"error","message":"upstream overloaded","session_id":"s1"}`,
			want: Frame{Type: FrameError, Message: "upstream overloaded", SessionID: "s1"},
		},
		{name: "raw done sentinel", raw: "[DONE]", want: Frame{Type: FrameDone}},
		{name: "padded done sentinel", raw: "  [DONE]\n", want: Frame{Type: FrameDone}},
		{
			name: "done sentinel as content",
			raw:  `{"type":"text","content":"[DONE]","session_id":"s1"}`,
			want: Frame{Type: FrameDone, SessionID: "s1"},
		},
		{name: "pong", raw: `{"type":"pong"}`, want: Frame{Type: FramePong}},
		{name: "plain text", raw: "hello", want: Frame{Type: FrameRaw, Content: "hello"}},
		{name: "broken json", raw: `{"type":"text",`, want: Frame{Type: FrameRaw, Content: `{"type":"text",`}},
		{name: "unknown type", raw: `{"type":"audio"}`, want: Frame{Type: FrameRaw, Content: `{"type":"audio"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecodeFrame([]byte(tt.raw)))
		})
	}
}

func TestFrame_RoundTripAndChunk(t *testing.T) {
	f := Frame{Type: FrameText, ID: "c1", SessionID: "s1", MessageID: "m1", Sequence: 3, Content: "abc", Final: true}
	assert.Equal(t, f, DecodeFrame(EncodeFrame(f)))
	assert.True(t, f.IsContent())
	assert.False(t, Frame{Type: FrameDone}.IsContent())

	now := time.Now()
	c := f.ToChunk(now)
	assert.Equal(t, Chunk{ID: "c1", SessionID: "s1", MessageID: "m1", Sequence: 3, Timestamp: now, Content: "abc", IsFinal: true}, c)
}
