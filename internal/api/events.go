package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zmlAEQ/Aequa-dkg/pkg/bus"
	"github.com/zmlAEQ/Aequa-dkg/pkg/logger"
	"github.com/zmlAEQ/Aequa-dkg/pkg/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventMessage is the websocket frame for a bus event.
type eventMessage struct {
	Kind    bus.Kind          `json:"kind"`
	Round   uint64            `json:"round,omitempty"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

func (s *Service) handleEvents(c *gin.Context) {
	if s.bus == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorResponse{Error: "event stream disabled"})
		return
	}
	// Subscribe before the handshake completes so the client sees every
	// event published after Dial returns.
	sub := s.bus.Subscribe()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.bus.Unsubscribe(sub)
		return
	}
	metrics.AddGauge("api_event_streams", nil, 1)
	defer func() {
		s.bus.Unsubscribe(sub)
		_ = conn.Close()
		metrics.AddGauge("api_event_streams", nil, -1)
	}()

	// The reader only watches for the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventMessage{Kind: ev.Kind, Round: ev.Round, Attrs: ev.Attrs, TraceID: ev.TraceID}); err != nil {
				logger.WarnJ("api_events", map[string]any{"op": "write", "err": err.Error()})
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
