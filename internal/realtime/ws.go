package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	snapshotWait   = 5 * time.Second
)

// ActionRequestStatus asks for an INITIAL_SPOT_STATUS snapshot.
const ActionRequestStatus = "request-parking-status"

// SnapshotSource returns every active spot with its current status.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]domain.ParkingSpot, error)
}

type clientMessage struct {
	Action string `json:"action"`
}

// Server upgrades HTTP requests and pumps hub traffic to each connection.
type Server struct {
	hub          *Hub
	broadcaster  *Broadcaster
	snapshots    SnapshotSource
	snapshotRate rate.Limit
	upgrader     websocket.Upgrader
	log          zerolog.Logger
}

// NewServer builds the websocket endpoint. snapshotRate is the sustained number
// of snapshot requests per second a single connection may make.
func NewServer(hub *Hub, broadcaster *Broadcaster, snapshots SnapshotSource, snapshotRate float64, log zerolog.Logger) *Server {
	if snapshotRate <= 0 {
		snapshotRate = 1
	}
	return &Server{
		hub:          hub,
		broadcaster:  broadcaster,
		snapshots:    snapshots,
		snapshotRate: rate.Limit(snapshotRate),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log.With().Str("component", "websocket").Logger(),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade to websocket")
		return
	}
	sub := s.hub.Subscribe()
	if sub == nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := &connection{
		server:  s,
		conn:    conn,
		sub:     sub,
		replies: make(chan []byte, 4),
		limiter: rate.NewLimiter(s.snapshotRate, 1),
		log:     s.log.With().Str("subscriber", sub.ID).Str("remote", r.RemoteAddr).Logger(),
	}
	go c.writePump()
	c.readPump()
}

type connection struct {
	server  *Server
	conn    *websocket.Conn
	sub     *Subscription
	replies chan []byte
	limiter *rate.Limiter
	log     zerolog.Logger
}

// readPump handles client actions until the connection fails.
func (c *connection) readPump() {
	defer func() {
		c.sub.Close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug().Err(err).Msg("ignoring malformed client message")
			continue
		}
		switch msg.Action {
		case ActionRequestStatus:
			c.sendSnapshot()
		default:
			c.log.Debug().Str("action", msg.Action).Msg("ignoring unknown client action")
		}
	}
}

func (c *connection) sendSnapshot() {
	if !c.limiter.Allow() {
		c.log.Debug().Msg("snapshot request rate limited")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotWait)
	defer cancel()
	spots, err := c.server.snapshots.Snapshot(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to load snapshot")
		return
	}
	frame, err := c.server.broadcaster.SnapshotFrame(spots)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode snapshot")
		return
	}

	select {
	case c.replies <- frame:
		c.log.Debug().Int("spots", len(spots)).Msg("snapshot sent")
	default:
		c.log.Debug().Msg("snapshot dropped, reply queue full")
	}
}

// writePump is the only writer on the connection.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.Messages():
			if !ok {
				// dropped by the hub or closed by readPump
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case frame := <-c.replies:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) write(messageType int, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
