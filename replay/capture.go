package replay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/unkn0wn-root/offsync/fault"
	"github.com/unkn0wn-root/offsync/obs"
)

// QueuedHeader marks the synthetic response Capture returns for a queued
// request; its value is the queued request ID.
const QueuedHeader = "Offsync-Queued"

type CaptureOptions struct {
	Queue *Queue // required
	// Next performs the request; default http.DefaultTransport.
	Next http.RoundTripper
	// Match selects the requests to capture; default: every method but GET, HEAD, OPTIONS.
	Match func(*http.Request) bool
	// OnQueued runs after a request was queued (the Scheduler's Trigger fits).
	OnQueued func(Request)
	Logger   obs.Logger
}

// Capture is an http.RoundTripper that queues mutating requests failing in
// transport and answers them with 202 Accepted, so the caller never sees the
// transient error.
type Capture struct {
	q        *Queue
	next     http.RoundTripper
	match    func(*http.Request) bool
	onQueued func(Request)
	log      obs.Logger
}

var _ http.RoundTripper = (*Capture)(nil)

func NewCapture(opts CaptureOptions) (*Capture, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("replay: capture requires a queue")
	}
	c := &Capture{q: opts.Queue, next: opts.Next, match: opts.Match, onQueued: opts.OnQueued, log: obs.OrNop(opts.Logger)}
	if c.next == nil {
		c.next = http.DefaultTransport
	}
	if c.match == nil {
		c.match = IsMutating
	}
	return c, nil
}

// IsMutating reports whether r may change server state.
func IsMutating(r *http.Request) bool {
	switch strings.ToUpper(r.Method) {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func (c *Capture) RoundTrip(r *http.Request) (*http.Response, error) {
	if !c.match(r) {
		return c.next.RoundTrip(r)
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("replay: buffer request body: %w", err)
		}
		body = b
	}
	out := r.Clone(r.Context())
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }

	resp, err := c.next.RoundTrip(out)
	if err == nil {
		return resp, nil
	}
	// the caller gave up; that is not a connectivity problem
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		return nil, err
	}

	queued, qerr := c.q.Push(context.WithoutCancel(r.Context()), FromHTTP(r, body))
	if qerr != nil {
		c.log.Error("request failed and could not be queued", obs.Fields{"method": r.Method, "url": r.URL.String(), "err": qerr})
		return nil, err
	}
	c.log.Info("request queued for replay", obs.Fields{
		"id": queued.ID, "method": r.Method, "url": r.URL.String(), "err": fmt.Errorf("%w: %v", fault.ErrTransientNetwork, err),
	})
	if c.onQueued != nil {
		c.onQueued(queued)
	}
	return accepted(r, queued.ID), nil
}

func accepted(r *http.Request, id string) *http.Response {
	h := make(http.Header)
	h.Set(QueuedHeader, id)
	h.Set("Content-Length", "0")
	return &http.Response{
		Status:        "202 Accepted",
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       r,
	}
}
