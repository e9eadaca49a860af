package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/festboard/internal/adapters/mq/broker"
	"github.com/okian/festboard/internal/domain/model"
	"github.com/okian/festboard/pkg/logger"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxReadBytes = 512
)

var upgrader = websocket.Upgrader{ //nolint:gochecknoglobals // stateless upgrader shared by all streams
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// StreamHandler upgrades GET /stream to a websocket subscriber.
type StreamHandler struct {
	deps         StreamDependencies
	logger       logger.Logger
	writeTimeout time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(deps StreamDependencies, l logger.Logger, writeTimeout time.Duration) *StreamHandler {
	return &StreamHandler{deps: deps, logger: l, writeTimeout: writeTimeout}
}

// HandleStream handles GET /stream?channels=a,b. Without channels the client
// receives every channel.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	channels, err := parseChannels(r.URL.Query().Get("channels"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug(r.Context(), "websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: conn, writeTimeout: h.writeTimeout}
	sub, err := h.deps.Subscribe(ctx, sink, channels...)
	if err != nil {
		h.logger.Warn(ctx, "stream subscribe failed", logger.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(h.writeTimeout))
		return
	}
	defer sub.Close()

	h.logger.Debug(ctx, "stream opened",
		logger.String("remote", r.RemoteAddr),
		logger.Int("channels", len(channels)),
	)

	go h.ping(ctx, conn, sub.Done())
	h.readUntilClosed(conn)

	h.logger.Debug(ctx, "stream closed", logger.String("remote", r.RemoteAddr))
}

// readUntilClosed discards client frames and returns once the peer goes away.
func (h *StreamHandler) readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(maxReadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) ping(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			// The sink failed; unblock the reader.
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// wsSink writes channel events as JSON text frames. Writes come only from
// the subscription's deliverer goroutine.
type wsSink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// Deliver implements broker.Sink.
func (s *wsSink) Deliver(_ context.Context, e model.ChannelEvent) error { //nolint:gocritic // hugeParam: matches Sink
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteJSON(e); err != nil {
		return fmt.Errorf("%w: %w", broker.ErrSinkClosed, err)
	}
	return nil
}

func parseChannels(raw string) ([]model.Channel, error) {
	if strings.TrimSpace(raw) == "" {
		return model.Channels(), nil
	}
	var out []model.Channel
	for _, part := range strings.Split(raw, ",") {
		ch := model.Channel(strings.TrimSpace(part))
		if ch == "" {
			continue
		}
		if !ch.Valid() {
			return nil, fmt.Errorf("%w: unknown channel %q", ErrBadRequest, ch)
		}
		out = append(out, ch)
	}
	if len(out) == 0 {
		return model.Channels(), nil
	}
	return out, nil
}
