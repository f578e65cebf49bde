// Package replay is the RequestReplayQueue: a durable FIFO of mutating HTTP
// requests that failed in transport, replayed strictly in order once
// connectivity returns.
//
// One failing head request blocks everything behind it until it succeeds or
// outlives the retention horizon. There is no skip-ahead.
package replay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// Request is a captured HTTP request. It is persisted with msgpack.
type Request struct {
	ID         string              `msgpack:"id"`
	Seq        uint64              `msgpack:"seq"`
	Method     string              `msgpack:"method"`
	URL        string              `msgpack:"url"`
	Header     map[string][]string `msgpack:"header,omitempty"`
	Body       []byte              `msgpack:"body,omitempty"`
	EnqueuedAt time.Time           `msgpack:"enqueued_at"`
}

// FromHTTP captures r with its already-buffered body.
func FromHTTP(r *http.Request, body []byte) Request {
	h := make(map[string][]string, len(r.Header))
	for k, v := range r.Header {
		h[k] = append([]string(nil), v...)
	}
	return Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: h,
		Body:   body,
	}
}

// HTTP rebuilds the request for sending.
func (q Request) HTTP(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(q.Body) > 0 {
		body = bytes.NewReader(q.Body)
	}
	r, err := http.NewRequestWithContext(ctx, q.Method, q.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range q.Header {
		r.Header[k] = append([]string(nil), v...)
	}
	return r, nil
}

// Age is the time since the request was first queued.
func (q Request) Age(now time.Time) time.Duration { return now.Sub(q.EnqueuedAt) }
