package telegram

import (
	"context"
	"io"
	"net/http"
	"time"
)

// timeoutTransport gives each request its own deadline. The bot API client
// takes no context, so this is what bounds a send. timeout is read per
// request.
type timeoutTransport struct {
	base    http.RoundTripper
	timeout func() time.Duration
}

func (t *timeoutTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout())
	resp, err := t.base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
