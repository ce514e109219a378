package transport

import (
	"context"
	"sync"
)

// Sent is one message captured by a Recorder.
type Sent struct {
	Channel bool
	To      int64
	Text    string
	Opt     SendOptions
}

// Recorder is an in-memory Messenger. The daemon uses it for dry runs and
// tests use it to assert on outbound traffic.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	fail map[int64]error

	// OnSend, when set, runs for every message after it is recorded.
	OnSend func(Sent)
}

func NewRecorder() *Recorder { return &Recorder{fail: map[int64]error{}} }

// FailFor makes every send to id return err; nil clears it.
func (r *Recorder) FailFor(id int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, id)
		return
	}
	r.fail[id] = err
}

func (r *Recorder) SendToChannel(ctx context.Context, channelID int64, text string, opt *SendOptions) (MessageRef, error) {
	return r.record(ctx, true, channelID, text, opt)
}

func (r *Recorder) SendToUser(ctx context.Context, userID int64, text string, opt *SendOptions) (MessageRef, error) {
	return r.record(ctx, false, userID, text, opt)
}

func (r *Recorder) record(ctx context.Context, channel bool, to int64, text string, opt *SendOptions) (MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return MessageRef{}, err
	}
	s := Sent{Channel: channel, To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}

	r.mu.Lock()
	if err := r.fail[to]; err != nil {
		r.mu.Unlock()
		return MessageRef{}, err
	}
	r.sent = append(r.sent, s)
	n := len(r.sent)
	hook := r.OnSend
	r.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return MessageRef{ChatID: to, MessageID: n}, nil
}

// Sent returns a copy of everything recorded so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.mu.Unlock()
}
