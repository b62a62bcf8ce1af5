package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"tuthub/cmd/identity"
	v1 "tuthub/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3
)

// HandlerConfig holds the per-connection transport policy.
type HandlerConfig struct {
	// Origin policy is enforced before upgrade.
	OriginRequired bool
	AllowedOrigins []string

	// DevInsecure disables the library's own origin verification. Dev only.
	DevInsecure bool

	SendQueueSize int
	WriteTimeout  time.Duration

	// ReadIdleTimeout closes connections that send nothing for this long.
	// Zero disables it; dead peers are still detected by the heartbeat.
	ReadIdleTimeout time.Duration

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration
}

// DefaultHandlerConfig returns localhost-only, heartbeat-enabled defaults.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		OriginRequired:    false,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		SendQueueSize:     wsDefaultSendQueueSize,
		WriteTimeout:      wsDefaultWriteTimeout,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c HandlerConfig) normalized() HandlerConfig {
	if c.SendQueueSize < wsMinSendQueueSize {
		c.SendQueueSize = wsMinSendQueueSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = wsDefaultWriteTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// Deps are the collaborators of a Handler. Directory, Bus and Store fall back to
// in-memory implementations when nil; Auth and Resolver are required.
type Deps struct {
	Log       *slog.Logger
	Auth      Authenticator
	Resolver  identity.Resolver
	Store     MessageStore
	Directory *Directory
	Bus       *Bus
	Metrics   *Metrics
}

// Handler is the chat WebSocket entrypoint, mounted at GET /chat/{peer}.
//
// Each request runs the connection state machine: authenticate the caller,
// resolve the peer from the path, register under the room key, then persist and
// fan out every valid chat event until the transport goes away.
type Handler struct {
	log      *slog.Logger
	auth     Authenticator
	resolver identity.Resolver
	store    MessageStore
	dir      *Directory
	bus      *Bus
	metrics  *Metrics

	cfg    HandlerConfig
	origin originPolicy
}

// NewHandler constructs a Handler.
func NewHandler(d Deps, cfg HandlerConfig) (*Handler, error) {
	if d.Auth == nil {
		return nil, errors.New("realtime: nil authenticator")
	}
	if d.Resolver == nil {
		return nil, errors.New("realtime: nil resolver")
	}

	log := d.Log
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if d.Store == nil {
		d.Store = NewInMemoryStore()
	}
	if d.Directory == nil {
		d.Directory = NewDirectory(log, d.Metrics)
	}
	if d.Bus == nil {
		d.Bus = NewBus(log, d.Directory, d.Metrics)
	}

	cfg = cfg.normalized()

	return &Handler{
		log:      log,
		auth:     d.Auth,
		resolver: d.Resolver,
		store:    d.Store,
		dir:      d.Directory,
		bus:      d.Bus,
		metrics:  d.Metrics,
		cfg:      cfg,
		origin:   originPolicy{required: cfg.OriginRequired, allowed: cfg.AllowedOrigins},
	}, nil
}

// Directory exposes the room directory (readiness/metrics/tests).
func (h *Handler) Directory() *Directory { return h.dir }

// ServeHTTP upgrades GET /chat/{peer} and runs the connection until it closes.
// Rejections happen before the upgrade and carry no WebSocket payload.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connID, err := NewConnID(time.Now().UTC())
	if err != nil {
		h.log.Error("ws.conn_id.fail", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	client := NewClient(connID, h.cfg.SendQueueSize)
	defer client.Close()

	roomKey, ok := h.handshake(w, r, client)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.origin.patterns(),
		InsecureSkipVerify: h.cfg.DevInsecure,
	})
	if err != nil {
		h.dir.Deregister(roomKey, client)
		h.metrics.reject(rejectUpgrade)
		h.log.Info("ws.accept.fail", "conn_id", client.ID, "err", err)
		return
	}

	h.run(r.Context(), conn, client, roomKey)
}

// handshake walks client from Connecting to Registered. On any failure it
// writes the HTTP rejection and returns false; the client is then never
// left registered.
func (h *Handler) handshake(w http.ResponseWriter, r *http.Request, client *Client) (string, bool) {
	if err := h.origin.enforce(r); err != nil {
		h.reject(w, r, client, http.StatusForbidden, rejectOrigin, err)
		return "", false
	}

	if err := client.BeginAuth(); err != nil {
		h.reject(w, r, client, http.StatusInternalServerError, rejectInternal, err)
		return "", false
	}

	self, err := h.auth.Authenticate(r.Context(), r)
	if err != nil {
		if isUnauthenticated(err) {
			h.reject(w, r, client, http.StatusUnauthorized, rejectUnauthorized, err)
		} else {
			h.reject(w, r, client, http.StatusServiceUnavailable, rejectResolver, err)
		}
		return "", false
	}
	if err := client.Authenticated(self); err != nil {
		h.reject(w, r, client, http.StatusInternalServerError, rejectInternal, err)
		return "", false
	}

	peer, status, reason, err := h.resolvePeer(r, self)
	if err != nil {
		h.reject(w, r, client, status, reason, err)
		return "", false
	}

	roomKey, err := client.PeerResolved(peer)
	if err != nil {
		h.reject(w, r, client, http.StatusInternalServerError, rejectInternal, err)
		return "", false
	}

	h.dir.Register(roomKey, client)
	if err := client.Registered(); err != nil {
		h.dir.Deregister(roomKey, client)
		h.reject(w, r, client, http.StatusInternalServerError, rejectInternal, err)
		return "", false
	}
	return roomKey, true
}

// resolvePeer maps the {peer} path value to a user and the HTTP status to use on failure.
func (h *Handler) resolvePeer(r *http.Request, self identity.User) (identity.User, int, string, error) {
	peer, err := h.resolver.Resolve(r.Context(), r.PathValue("peer"))
	switch {
	case identity.IsNotFound(err), identity.IsInvalidInput(err):
		return identity.User{}, http.StatusNotFound, rejectPeerNotFound, err
	case err != nil:
		return identity.User{}, http.StatusServiceUnavailable, rejectResolver, err
	case peer.ID == self.ID:
		return identity.User{}, http.StatusBadRequest, rejectSelfChat, errors.New("peer is the caller")
	}
	return peer, 0, "", nil
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, client *Client, status int, reason string, err error) {
	client.Close()
	h.metrics.reject(reason)
	h.log.Info("ws.reject",
		"reason", reason,
		"status", status,
		"err", err,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	)
	http.Error(w, http.StatusText(status), status)
}

// run drives a registered connection: one writer goroutine draining client.Send,
// one heartbeat goroutine, and the read loop on the calling goroutine.
func (h *Handler) run(parent context.Context, conn *websocket.Conn, client *Client, roomKey string) {
	conn.SetReadLimit(maxFrameBytes)

	self, peer := client.Self(), client.Peer()
	log := h.log.With("conn_id", client.ID, "room_key", roomKey, "user_id", self.ID)
	log.Info("ws.connected", "peer_id", peer.ID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent: deregister first, then release the transport.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			h.dir.Deregister(roomKey, client)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			log.Info("ws.disconnected", "reason", reason)
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				// Closed by the bus on a failed delivery, or by shutdown itself.
				shutdown(websocket.StatusPolicyViolation, "delivery failed")
				return
			case frame := <-client.Send:
				if err := writeFrame(ctx, conn, frame, h.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusInternalError, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(h.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, h.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

	rl := NewRateLimiter(h.cfg.RateEvents, h.cfg.RateWindow)

readLoop:
	for {
		mt, data, err := h.readFrame(ctx, conn)
		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusGoingAway, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusInternalError, "read failed")
			}
			break readLoop
		}

		if !rl.Allow(time.Now()) {
			h.trySendError(client, v1.ErrorRateLimit)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if mt != websocket.MessageText {
			h.metrics.eventMalformed()
			log.Info("chat.event.malformed", "err", "non-text frame")
			continue
		}

		ev, err := decodeChatEvent(data)
		if err != nil {
			h.metrics.eventMalformed()
			log.Info("chat.event.malformed", "err", err)
			continue
		}

		h.onChatMessage(ctx, log, client, self, peer, roomKey, ev.Text)
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// onChatMessage persists first and publishes only what was stored.
func (h *Handler) onChatMessage(ctx context.Context, log *slog.Logger, client *Client, self, peer identity.User, roomKey, text string) {
	msg, err := h.store.Append(ctx, self, peer, text)
	if err != nil {
		h.metrics.persistFailed()
		log.Error("chat.message.persist.fail", "err", err)
		h.trySendError(client, v1.ErrorSendFailed)
		return
	}
	h.metrics.messagePersisted()

	n, err := h.bus.Publish(roomKey, msg.Delivery())
	if err != nil {
		log.Error("chat.message.publish.fail", "message_id", msg.ID, "err", err)
		return
	}
	log.Debug("chat.message.published", "message_id", msg.ID, "members", n)
}

func (h *Handler) readFrame(ctx context.Context, conn *websocket.Conn) (websocket.MessageType, []byte, error) {
	if h.cfg.ReadIdleTimeout <= 0 {
		return conn.Read(ctx)
	}
	readCtx, cancel := context.WithTimeout(ctx, h.cfg.ReadIdleTimeout)
	defer cancel()
	return conn.Read(readCtx)
}

// trySendError enqueues an error frame for the originating connection only.
func (h *Handler) trySendError(client *Client, code string) {
	b, _ := json.Marshal(v1.ErrorFrame{Error: code})
	select {
	case <-client.Done():
	case client.Send <- b:
	default:
	}
}

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
