package logx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	kit "remindbot/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	require.Equal(t, zerolog.DebugLevel, ParseLevel("trace", zerolog.InfoLevel))
	require.Equal(t, zerolog.WarnLevel, ParseLevel(" Warning ", zerolog.InfoLevel))
	require.Equal(t, zerolog.ErrorLevel, ParseLevel("ERROR", zerolog.InfoLevel))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("loud", zerolog.InfoLevel))
}

func TestLoggerFieldsAndLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := FromZerolog(zerolog.New(&buf).Level(zerolog.InfoLevel)).With(String("comp", "test"))

	log.Debug("hidden")
	log.Info("shown", Int("n", 3), Err(errors.New("boom")), Err(nil))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"comp":"test"`)
	require.Contains(t, out, `"n":3`)
	require.Contains(t, out, "boom")
	require.Contains(t, out, "logger_test.go:")
	require.False(t, log.Enabled(LevelDebug))
	require.True(t, log.Enabled(LevelWarn))
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	require.True(t, zero.IsZero())
	zero.Error("dropped")

	nop := Nop()
	require.False(t, nop.IsZero())
	nop.Error("dropped")
}

func TestFormatChatLine(t *testing.T) {
	t.Parallel()
	got := formatChatLine([]byte(`{"level":"warn","time":"x","message":"a <b>","id":"r1"}`))
	require.Equal(t, "<b>[WARN]</b> a &lt;b&gt;\n- id=r1", got)

	require.Equal(t, "not json", formatChatLine([]byte("not json\n")))
	require.Len(t, truncate(strings.Repeat("x", 50), 20), 20)
}

type chatSink struct {
	mu   sync.Mutex
	sent []string
}

func (c *chatSink) SendToChannel(_ context.Context, _ int64, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return kit.MessageRef{}, nil
}

func (c *chatSink) SendToUser(context.Context, int64, string, *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{}, nil
}

func (c *chatSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestServiceForwardsWarningsToChat(t *testing.T) {
	sink := &chatSink{}
	svc, log := New(Config{
		Level: "debug",
		Chat:  ChatConfig{Enabled: true, ChatID: -100, MinLevel: "warn", RatePerSec: 10},
	}, sink)
	defer svc.Close()

	log.Info("routine")
	log.Warn("disk almost full")

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 10*time.Millisecond)
	sink.mu.Lock()
	require.Contains(t, sink.sent[0], "disk almost full")
	sink.mu.Unlock()
}
