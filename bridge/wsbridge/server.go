// Package wsbridge carries the SyncBridge across processes over websockets.
// Clients post CACHE_SYNC messages; the server feeds them into one Poster (a
// bridge.Bus in practice, so the background handler sees a single arrival
// order) and pushes every SYNC_* notification to every connected client.
package wsbridge

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/unkn0wn-root/offsync/bridge"
	"github.com/unkn0wn-root/offsync/obs"
)

const (
	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 5 * time.Second
	defaultSendBuffer   = 64
)

type ServerOptions struct {
	Poster bridge.Poster // required
	Logger obs.Logger
	Hooks  obs.Hooks
	// Accept is passed to websocket.Accept (origin checks, subprotocols).
	Accept       *websocket.AcceptOptions
	ReadLimit    int64
	WriteTimeout time.Duration
	// SendBuffer bounds notifications queued per client; a slow client loses the overflow.
	SendBuffer int
}

type Server struct {
	opts  ServerOptions
	log   obs.Logger
	hooks obs.Hooks

	mu     sync.Mutex
	conns  map[*serverConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

type serverConn struct {
	c      *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

var (
	_ http.Handler       = (*Server)(nil)
	_ bridge.Broadcaster = (*Server)(nil)
)

func NewServer(opts ServerOptions) *Server {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	return &Server{
		opts:  opts,
		log:   obs.OrNop(opts.Logger),
		hooks: obs.HooksOrNop(opts.Hooks),
		conns: make(map[*serverConn]struct{}),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, s.opts.Accept)
	if err != nil {
		s.log.Warn("websocket accept failed", obs.Fields{"remote": r.RemoteAddr, "err": err})
		return
	}
	c.SetReadLimit(s.opts.ReadLimit)

	ctx, cancel := context.WithCancel(r.Context())
	sc := &serverConn{c: c, send: make(chan []byte, s.opts.SendBuffer), cancel: cancel}
	if !s.add(sc) {
		cancel()
		c.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	defer s.remove(sc)

	go func() {
		defer s.wg.Done()
		s.writeLoop(ctx, sc)
	}()
	s.readLoop(ctx, sc)
	cancel()
	c.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLoop(ctx context.Context, sc *serverConn) {
	for {
		typ, data, err := sc.c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.log.Debug("websocket read ended", obs.Fields{"err": err})
			}
			return
		}
		if typ != websocket.MessageText {
			s.hooks.ProtocolMismatch("binary frame")
			continue
		}
		m, err := bridge.Decode(data)
		if err != nil {
			s.log.Warn("ignoring malformed bridge message", obs.Fields{"err": err})
			s.hooks.ProtocolMismatch(err.Error())
			continue
		}
		if err := s.opts.Poster.Post(m); err != nil {
			s.log.Warn("bridge message dropped", obs.Fields{"op": m.Operation.Kind().String(), "key": m.Operation.Key, "err": err})
			s.hooks.SyncDropped(m.Operation.Namespace, m.Operation.Kind().String(), err)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, sc *serverConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-sc.send:
			wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := sc.c.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				s.log.Debug("websocket write failed", obs.Fields{"err": err})
				sc.cancel()
				return
			}
		}
	}
}

// add registers sc and accounts for its write loop. The WaitGroup is grown under
// mu so it can never race Close's Wait.
func (s *Server) add(sc *serverConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[sc] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) remove(sc *serverConn) {
	s.mu.Lock()
	delete(s.conns, sc)
	s.mu.Unlock()
}

// Clients reports the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Broadcast queues n for every client without blocking.
func (s *Server) Broadcast(n bridge.Notification) {
	b, err := bridge.EncodeNotification(n)
	if err != nil {
		s.log.Error("refusing to broadcast invalid notification", obs.Fields{"type": n.Type, "err": err})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sc := range s.conns {
		select {
		case sc.send <- b:
		default:
			s.log.Warn("client send buffer full; notification dropped", obs.Fields{"type": n.Type})
		}
	}
}

// Close disconnects every client and waits for their writers to stop.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	for sc := range s.conns {
		sc.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}
