package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/voice-commander/internal/pipeline"
	"github.com/yegors/voice-commander/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(origin, h.config.Server.CORSAllowedOrigins)
		},
	}
}

// HandleEvents streams pipeline events to a websocket client as JSON. The
// client only receives events emitted after it connected. A client that
// falls behind is disconnected with a close frame.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	sub := h.pipeline.Subscribe()
	defer sub.Close()

	log := h.logger.With(logger.String("remote_addr", conn.RemoteAddr().String()))
	log.Info("Event stream client connected")

	// Inbound frames are discarded; reading is needed for pongs and close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug("Event stream read error", logger.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			log.Info("Event stream client disconnected")
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				h.closeEventStream(conn, sub.Err(), log)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Event stream write failed", logger.Error(err))
				return
			}
		}
	}
}

func (h *Handler) closeEventStream(conn *websocket.Conn, reason error, log *logger.Logger) {
	code, text := websocket.CloseGoingAway, "pipeline closed"
	if errors.Is(reason, pipeline.ErrSubscriberLagged) {
		code, text = websocket.ClosePolicyViolation, "event buffer overflow"
		log.Warn("Event stream client fell behind, disconnecting")
	}
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
