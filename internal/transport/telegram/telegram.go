package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// SendTimeout bounds every Bot API request, response body included.
	// 0 means 10s.
	SendTimeout time.Duration

	// APIURL points at a self-hosted Bot API server; empty means the public one.
	APIURL string

	// Offline skips the getMe handshake (tests, dry runs).
	Offline bool
}

const defaultSendTimeout = 10 * time.Second

// Messenger delivers reminder text through the Telegram Bot API.
// It only sends; inbound updates belong to the command layer.
type Messenger struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	timeout atomic.Int64

	mu      sync.Mutex
	stopped bool
}

func New(cfg Config, log logx.Logger) (*Messenger, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &Messenger{cfg: cfg, log: log}
	m.SetSendTimeout(cfg.SendTimeout)

	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimSpace(cfg.APIURL),
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: poll},
		Offline: cfg.Offline,
		Client: &http.Client{Transport: &timeoutTransport{
			base:    http.DefaultTransport,
			timeout: m.sendTimeout,
		}},
	})
	if err != nil {
		return nil, err
	}
	m.bot = b
	return m, nil
}

// SetSendTimeout changes the per-request bound for the next send; d <= 0
// restores the default.
func (m *Messenger) SetSendTimeout(d time.Duration) {
	if d <= 0 {
		d = defaultSendTimeout
	}
	m.timeout.Store(int64(d))
}

func (m *Messenger) sendTimeout() time.Duration { return time.Duration(m.timeout.Load()) }

func (m *Messenger) Start(ctx context.Context) error {
	_ = ctx
	m.mu.Lock()
	m.stopped = false
	m.mu.Unlock()
	if m.bot != nil && m.bot.Me != nil {
		m.log.Info("telegram ready", logx.String("bot", m.bot.Me.Username))
	}
	return nil
}

func (m *Messenger) Stop(ctx context.Context) error {
	_ = ctx
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *Messenger) SendToChannel(ctx context.Context, channelID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if channelID == 0 {
		return kit.MessageRef{}, fmt.Errorf("channel %d: %w", channelID, kit.ErrDestinationGone)
	}
	return m.send(ctx, &tele.Chat{ID: channelID}, channelID, text, opt)
}

func (m *Messenger) SendToUser(ctx context.Context, userID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if userID == 0 {
		return kit.MessageRef{}, fmt.Errorf("user %d: %w", userID, kit.ErrDestinationGone)
	}
	return m.send(ctx, &tele.User{ID: userID}, userID, text, opt)
}

func (m *Messenger) send(ctx context.Context, to tele.Recipient, chatID int64, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	m.mu.Lock()
	stopped := m.stopped
	m.mu.Unlock()
	if stopped {
		return kit.MessageRef{}, errors.New("telegram messenger stopped")
	}
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return kit.MessageRef{}, err
		}
	}

	if clipped := clipText(text, textLimit, opt.ParseMode); len(clipped) != len(text) {
		m.log.Warn("message over the Telegram limit, truncated", logx.Int64("chat_id", chatID), logx.Int("bytes", len(text)))
		text = clipped
	}
	msg, err := m.bot.Send(to, text, &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	})
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	ref := kit.MessageRef{ChatID: chatID}
	if msg != nil {
		ref.MessageID = msg.ID
	}
	return ref, nil
}

// classify maps Bot API failures that mean "this chat is unreachable for good"
// onto kit.ErrDestinationGone and leaves everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, gone := range []error{
		tele.ErrChatNotFound,
		tele.ErrBlockedByUser,
		tele.ErrKickedFromGroup,
		tele.ErrKickedFromSuperGroup,
		tele.ErrNotStartedByUser,
		tele.ErrUserIsDeactivated,
	} {
		if errors.Is(err, gone) {
			return fmt.Errorf("%w: %v", kit.ErrDestinationGone, err)
		}
	}
	var terr *tele.Error
	if errors.As(err, &terr) && terr.Code == 403 {
		return fmt.Errorf("%w: %v", kit.ErrDestinationGone, err)
	}
	return err
}

const textLimit = 4000

// clipText cuts s to limit runes, ending with an ellipsis. In HTML mode the
// cut never lands inside a tag.
func clipText(s string, limit int, parseMode string) string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	end := limit - 1
	if strings.EqualFold(parseMode, "HTML") {
		lastOpen, lastClose := -1, -1
		for i, r := range rs[:end] {
			switch r {
			case '<':
				lastOpen = i
			case '>':
				lastClose = i
			}
		}
		if lastOpen > lastClose {
			end = lastOpen
		}
	}
	return strings.TrimRight(string(rs[:end]), "\n") + "…"
}
