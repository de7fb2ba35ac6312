// Package ws carries the realtime engine over websockets: one reader and one
// writer goroutine per connection.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lets-chat/auth"
	"lets-chat/contract"
	"lets-chat/domain"
	"lets-chat/runtime"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Config struct {
	AllowedOrigins  []string
	AuthGracePeriod time.Duration
	PongTimeout     time.Duration
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int
	MaxFrameBytes   int64
}

func DefaultConfig() Config {
	return Config{
		AuthGracePeriod: 10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingInterval:    50 * time.Second,
		WriteTimeout:    10 * time.Second,
		SendBuffer:      64,
		MaxFrameBytes:   16 << 10,
	}
}

type Handler struct {
	engine   *runtime.Engine
	verifier contract.IVerifier
	log      *slog.Logger
	config   Config
	upgrader websocket.Upgrader
}

func NewHandler(log *slog.Logger, engine *runtime.Engine, verifier contract.IVerifier, config Config) *Handler {
	h := &Handler{engine: engine, verifier: verifier, log: log, config: config}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin accepts any origin when none is configured, and requests
// without an Origin header (non-browser clients).
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return lo.ContainsBy(h.config.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var identity *domain.Identity
	if credential, ok := credentialFrom(r); ok {
		verified, err := h.verifier.Verify(credential)
		if err != nil {
			h.log.Debug("Websocket handshake refused", "remote", r.RemoteAddr, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		identity = &verified
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	c := newConnection(conn, h.log, h.config)
	go c.writePump()
	defer func() {
		c.Close()
		<-c.pumped
		_ = conn.Close()
	}()

	session := h.engine.Open(c)
	defer h.engine.Close(context.WithoutCancel(ctx), session)

	if identity != nil {
		if err := h.engine.Admit(ctx, session, *identity); err != nil {
			return
		}
	}
	h.readLoop(ctx, conn, c, session)
}

// readLoop hands frames to the engine in arrival order until the socket
// fails, the engine asks to close, or ctx ends.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, c *Connection, session *runtime.Session) {
	grace := time.Now().Add(h.config.AuthGracePeriod)
	// The grace deadline stays fixed until the session is authenticated,
	// then the deadline follows pongs and frames.
	extend := func() {
		if session.State() == domain.Authenticated {
			_ = conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
			return
		}
		_ = conn.SetReadDeadline(grace)
	}

	conn.SetReadLimit(h.config.MaxFrameBytes)
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.Debug("Websocket read ended", "error", err)
			}
			return
		}
		if err := h.engine.Handle(ctx, session, frame); err != nil {
			c.log.Debug("Closing connection", "state", session.State(), "error", err)
			return
		}
		extend()
	}
}

// credentialFrom reads the handshake credential from the bearer header or the
// token query parameter.
func credentialFrom(r *http.Request) (string, bool) {
	if token, ok := auth.ParseBearer(r.Header.Get("Authorization")); ok {
		return token, true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}
