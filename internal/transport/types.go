package transport

import (
	"context"
	"errors"
)

// ErrDestinationGone reports that the target chat or user can no longer be
// reached (deleted channel, bot kicked, DM blocked). Callers treat it as a
// permanent delivery failure for that message, not as a transport fault.
var ErrDestinationGone = errors.New("destination gone")

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Messenger is the capability set reminders are delivered over.
// A channel send broadcasts into a shared chat; a user send opens (or reuses)
// the private conversation with that user.
type Messenger interface {
	SendToChannel(ctx context.Context, channelID int64, text string, opt *SendOptions) (MessageRef, error)
	SendToUser(ctx context.Context, userID int64, text string, opt *SendOptions) (MessageRef, error)
}

// Lifecycle is implemented by messengers that own background resources.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
