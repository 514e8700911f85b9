package realtime

import (
	"context"
	"sync"
	"time"

	"courier/pkg/api/auth"
	"courier/pkg/logger"
	"courier/pkg/metrics"
	"courier/pkg/router"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
)

// Options tune every connection.
type Options struct {
	SendBuffer     int
	ReadDeadline   time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	InboundRPS     float64
	InboundBurst   int
	AllowedOrigins []string
}

func (o *Options) fill() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.ReadDeadline <= 0 {
		o.ReadDeadline = 90 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.ReadDeadline {
		o.PingInterval = o.ReadDeadline * 2 / 3
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 64 << 10
	}
}

// Server upgrades authenticated requests to websocket connections and
// runs one read loop and one write loop per connection.
type Server struct {
	dispatcher *Dispatcher
	opts       Options
	upgrader   websocket.FastHTTPUpgrader

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

// NewServer builds the websocket endpoint.
func NewServer(d *Dispatcher, opts Options) *Server {
	opts.fill()
	s := &Server{dispatcher: d, opts: opts, conns: make(map[string]*Conn)}
	s.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(ctx *fasthttp.RequestCtx) bool {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Handler is the GET /v1/ws route. The caller must already carry a
// verified author.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	user, ok := auth.Author(ctx)
	if !ok {
		router.WriteJSONError(ctx, fasthttp.StatusUnauthorized, "signed user required")
		return
	}
	err := s.upgrader.Upgrade(ctx, func(ws *websocket.Conn) {
		s.serve(user, ws)
	})
	if err != nil {
		logger.Warn("ws_upgrade_failed", "user", user, "error", err)
	}
}

// Connections reports the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close shuts every connection and waits for their loops to finish.
// Sockets upgraded afterwards are refused.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for _, c := range s.conns {
		c.close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// track registers c. It returns false once the server is closed.
func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.handle] = c
	s.wg.Add(1)
	metrics.WSConnections.Inc()
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.handle)
	s.mu.Unlock()
	metrics.WSConnections.Dec()
	s.wg.Done()
}

func (s *Server) serve(user string, ws *websocket.Conn) {
	c := newConn(uuid.NewString(), s.opts.SendBuffer)
	if !s.track(c) {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout))
		return
	}
	defer s.untrack(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ws.SetReadLimit(s.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(s.opts.ReadDeadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.ReadDeadline))
	})

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		c.writeLoop(ws, s.opts.WriteTimeout, s.opts.PingInterval)
	}()

	sess := newSession(c, user, s.opts.InboundRPS, s.opts.InboundBurst)
	defer func() {
		users := s.dispatcher.engine.Disconnect(c.handle)
		c.close()
		writer.Wait()
		logger.Info("ws_disconnected", "handle", c.handle, "users", users)
	}()

	res, err := s.dispatcher.engine.Connect(ctx, user, c)
	if err != nil {
		logger.Warn("ws_connect_sweep_failed", "user", user, "handle", c.handle, "error", err)
	}
	logger.Info("ws_connected", "user", user, "handle", c.handle, "first", res.First, "swept", res.Swept)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("ws_read_failed", "user", sess.user, "handle", c.handle, "error", err)
			}
			return
		}
		if c.Closed() {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.opts.ReadDeadline))
		s.dispatcher.handleFrame(ctx, sess, data)
	}
}
