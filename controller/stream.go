// controller/stream.go
package controller

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aria7-op/adcg-engine/bus"
	logger "github.com/aria7-op/adcg-engine/logging"
	"github.com/aria7-op/adcg-engine/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamEvents pushes bus events matching the optional ?type filter to a
// websocket client. The subscription is torn down when the client goes
// away.
func (ec *EngineController) StreamEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	eventType := c.Query("type")
	if eventType == "" {
		eventType = bus.Wildcard
	}
	listenerID := "ws:" + uuid.NewString()

	var writeMu sync.Mutex
	done := make(chan struct{})

	ec.eventBus.Subscribe(eventType, listenerID, func(_ context.Context, event model.Event) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		select {
		case <-done:
			return nil
		default:
		}
		if err := conn.WriteJSON(event); err != nil {
			logger.Debug("Websocket write failed, dropping subscriber",
				zap.Error(err),
				zap.String("listenerID", listenerID))
		}
		return nil
	})

	defer func() {
		close(done)
		ec.eventBus.Unsubscribe(eventType, listenerID)
		conn.Close()
	}()

	// Block reading until the client disconnects; incoming frames are
	// ignored, the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
