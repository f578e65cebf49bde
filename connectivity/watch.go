package connectivity

import (
	"context"
	"net"
	"time"
)

// Check probes connectivity; nil means online.
type Check func(ctx context.Context) error

// DialCheck reports online when a TCP connection to addr succeeds.
func DialCheck(addr string, timeout time.Duration) Check {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return c.Close()
	}
}

// Watch probes every interval and feeds the result to m.SetOnline until ctx ends.
// The first probe runs immediately.
func Watch(ctx context.Context, m *Monitor, interval time.Duration, check Check) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		m.SetOnline(check(ctx) == nil)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
