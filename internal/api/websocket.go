package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"order-engine/internal/order"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
	streamBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type streamError struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
}

// orderStatusStream pushes status updates for one order. It subscribes
// before reading the stored order so no transition between the two is lost.
func (s *Server) orderStatusStream(c *gin.Context) {
	orderID := c.Param("orderId")
	log := s.log.With(zap.String("order_id", orderID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.Publisher.Stream(orderID, streamBuffer)
	defer cancel()
	log.Info("status stream opened")
	defer log.Info("status stream closed")

	o, err := s.Orders.Get(c.Request.Context(), orderID)
	if err != nil {
		msg := "Order not found"
		if !order.IsNotFound(err) {
			log.Error("load order for stream failed", zap.Error(err))
			msg = "Failed to load order"
		}
		_ = writeJSON(conn, streamError{OrderID: orderID, Status: "error", Timestamp: time.Now().UTC(), Error: msg})
		closeStream(conn, websocket.ClosePolicyViolation, msg)
		return
	}

	snapshot := order.Snapshot(o, "Connected to order status stream")
	snapshot.Final = o.Finished(s.maxAttempts)
	if err := writeJSON(conn, snapshot); err != nil {
		return
	}
	if snapshot.Final {
		closeStream(conn, websocket.CloseNormalClosure, "order finished")
		return
	}

	// The reader only detects disconnects and answers pings.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return
			}
			// Broadcast between Stream and Get; the snapshot already covers it.
			if !u.Timestamp.After(snapshot.Timestamp) {
				continue
			}
			if err := writeJSON(conn, u); err != nil {
				log.Debug("ws write failed", zap.Error(err))
				return
			}
			if u.Final {
				closeStream(conn, websocket.CloseNormalClosure, "order finished")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
