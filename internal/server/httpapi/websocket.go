package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/common"
	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/dmitrijs2005/plotroom/internal/server/realtime"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait      = 10 * time.Second
	wsMaxMessageSize = 64 << 10
)

// wsTransport writes hub messages as JSON text frames.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(_ context.Context, msg realtime.Message) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) Close() error {
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return t.conn.Close()
}

type realtimeHandler struct {
	auth     Authenticator
	hub      *realtime.Hub
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func newRealtimeHandler(a Authenticator, hub *realtime.Hub, allowedOrigins []string, logger logging.Logger) *realtimeHandler {
	return &realtimeHandler{
		auth: a,
		hub:  hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger.With("module", "websocket"),
	}
}

// originChecker admits non-browser clients (no Origin header) and browsers
// served from one of the allowed origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
	}
}

// connectToken prefers the Authorization header. Browsers cannot set
// headers on websocket handshakes, so the access_token query parameter is
// accepted as well.
func connectToken(r *http.Request) (string, error) {
	if token, err := bearerToken(r); err == nil {
		return token, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", common.ErrMissingToken
}

func (h *realtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := connectToken(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(wsMaxMessageSize)

	ctx := r.Context()
	client := h.hub.Attach(ctx, id.ID, &wsTransport{conn: conn})

	next := func(ctx context.Context) (realtime.Message, error) {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return realtime.Message{}, err
			}
			var msg realtime.Message
			if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
				h.hub.Reject(ctx, client, "", realtime.ErrMalformed)
				continue
			}
			return msg, nil
		}
	}

	err = h.hub.Run(ctx, client, next)
	var closeErr *websocket.CloseError
	if err != nil && !errors.As(err, &closeErr) && !errors.Is(err, websocket.ErrCloseSent) {
		h.logger.Debug(ctx, "websocket read ended", "conn_id", client.ID, "error", err)
	}
}
