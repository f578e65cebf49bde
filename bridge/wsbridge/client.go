package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/fault"
	"github.com/unkn0wn-root/offsync/obs"
)

type ClientOptions struct {
	Logger obs.Logger
	Hooks  obs.Hooks
	Dial   *websocket.DialOptions
	// Outbox bounds messages waiting to be written. Default 1024.
	Outbox       int
	ReadLimit    int64
	WriteTimeout time.Duration
}

// Client is a foreground endpoint of a remote bridge. It posts without blocking
// and relays notifications to its subscribers. It does not reconnect: once the
// connection drops Post returns fault.ErrPersistenceUnavailable.
type Client struct {
	c     *websocket.Conn
	hub   *bridge.Hub
	log   obs.Logger
	hooks obs.Hooks
	wto   time.Duration

	out       chan []byte
	writeDone chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var (
	_ bridge.Poster = (*Client)(nil)
	_ bridge.Source = (*Client)(nil)
)

// Dial connects to a wsbridge.Server at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	c, _, err := websocket.Dial(ctx, url, opts.Dial)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Outbox <= 0 {
		opts.Outbox = 1024
	}
	c.SetReadLimit(opts.ReadLimit)

	log := obs.OrNop(opts.Logger)
	cctx, cancel := context.WithCancel(context.Background())
	cl := &Client{
		c:         c,
		hub:       bridge.NewHub(log),
		log:       log,
		hooks:     obs.HooksOrNop(opts.Hooks),
		wto:       opts.WriteTimeout,
		out:       make(chan []byte, opts.Outbox),
		writeDone: make(chan struct{}),
		ctx:       cctx,
		cancel:    cancel,
	}
	cl.wg.Add(1)
	go cl.readLoop()
	go cl.writeLoop()
	return cl, nil
}

// Post encodes m and queues it for the writer.
func (c *Client) Post(m bridge.Message) error {
	b, err := bridge.Encode(m)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.ctx.Err() != nil {
		return fmt.Errorf("%w: bridge connection closed", fault.ErrPersistenceUnavailable)
	}
	select {
	case c.out <- b:
		return nil
	default:
		return fmt.Errorf("%w: outbox full", fault.ErrPersistenceUnavailable)
	}
}

func (c *Client) Subscribe(fn func(bridge.Notification)) (cancel func()) {
	return c.hub.Subscribe(fn)
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer c.cancel()
	for {
		_, data, err := c.c.Read(c.ctx)
		if err != nil {
			return
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &probe) != nil {
			c.hooks.ProtocolMismatch("undecodable frame")
			continue
		}
		n, err := bridge.DecodeNotification(data)
		if err != nil {
			c.log.Debug("ignoring unknown frame", obs.Fields{"type": probe.Type})
			c.hooks.ProtocolMismatch(err.Error())
			continue
		}
		c.hub.Broadcast(n)
	}
}

func (c *Client) writeLoop() {
	defer close(c.writeDone)
	for {
		select {
		case <-c.ctx.Done():
			return
		case b, ok := <-c.out:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(c.ctx, c.wto)
			err := c.c.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				c.log.Warn("bridge write failed; closing connection", obs.Fields{"err": err})
				c.cancel()
				return
			}
		}
	}
}

// Close flushes queued messages (bounded by ctx) and closes the connection.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()

	// the writer drains the closed outbox, then exits
	select {
	case <-c.writeDone:
	case <-ctx.Done():
		c.cancel()
		<-c.writeDone
	}
	err := c.c.Close(websocket.StatusNormalClosure, "client close")
	c.cancel()
	c.wg.Wait()
	return err
}
