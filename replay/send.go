package replay

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/unkn0wn-root/offsync/fault"
)

// Sender resends one queued request. A nil error means the request is done
// and leaves the queue.
type Sender interface {
	Send(ctx context.Context, req Request) error
}

type SenderFunc func(ctx context.Context, req Request) error

func (f SenderFunc) Send(ctx context.Context, req Request) error { return f(ctx, req) }

// SendError describes a failed resend. Status is 0 for transport failures.
type SendError struct {
	RequestID string
	Method    string
	URL       string
	Status    int
	Err       error
}

func (e *SendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("replay %s %s (%s): status %d", e.Method, e.URL, e.RequestID, e.Status)
	}
	return fmt.Sprintf("replay %s %s (%s): %v", e.Method, e.URL, e.RequestID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// HTTPSender resends requests with an http.Client. A transport error is a
// failure; any response counts as delivered unless FailOn5xx is set.
type HTTPSender struct {
	Client    *http.Client
	FailOn5xx bool
}

var _ Sender = (*HTTPSender)(nil)

func (s *HTTPSender) Send(ctx context.Context, req Request) error {
	hr, err := req.HTTP(ctx)
	if err != nil {
		// a request that cannot be rebuilt never will be; hand it back as a failure
		return &SendError{RequestID: req.ID, Method: req.Method, URL: req.URL, Err: err}
	}
	c := s.Client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(hr)
	if err != nil {
		return &SendError{RequestID: req.ID, Method: req.Method, URL: req.URL,
			Err: fmt.Errorf("%w: %v", fault.ErrTransientNetwork, err)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if s.FailOn5xx && resp.StatusCode >= 500 {
		return &SendError{RequestID: req.ID, Method: req.Method, URL: req.URL, Status: resp.StatusCode,
			Err: fmt.Errorf("server error %d", resp.StatusCode)}
	}
	return nil
}
