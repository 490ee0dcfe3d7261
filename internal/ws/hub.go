package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"parking-sensor-service/internal/domain/parking"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client is one live-monitor connection, subscribed to a single spot.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	spot string
}

// Hub fans processed parking events out to spot monitors.
type Hub struct {
	log        zerolog.Logger
	clients    map[*Client]bool
	broadcast  chan broadcastMsg
	register   chan *Client
	unregister chan *Client
}

type broadcastMsg struct {
	spot    string
	payload []byte
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Info().
				Str("spot", client.spot).
				Int("total_clients", len(h.clients)).
				Msg("live monitor connected")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.log.Info().
				Int("total_clients", len(h.clients)).
				Msg("live monitor disconnected")

		case msg := <-h.broadcast:
			for client := range h.clients {
				if client.spot != "" && client.spot != msg.spot {
					continue
				}
				select {
				case client.send <- msg.payload:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// BroadcastEvent pushes one processed event to every monitor watching
// its spot. Non-blocking: a full hub channel drops the update.
func (h *Hub) BroadcastEvent(event parking.Event) {
	payload, err := json.Marshal(message{Type: "parking_event", Data: struct {
		ID         string             `json:"id"`
		LotID      string             `json:"lot_id"`
		SpotNumber string             `json:"spot_number"`
		EventType  parking.EventType  `json:"event_type"`
		SensorData parking.SensorData `json:"sensor_data"`
		DetectedAt time.Time          `json:"detected_at"`
	}{
		ID:         event.ID.String(),
		LotID:      event.LotID.String(),
		SpotNumber: event.SpotNumber,
		EventType:  event.EventType,
		SensorData: event.SensorData,
		DetectedAt: event.DetectedAt,
	}})
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	select {
	case h.broadcast <- broadcastMsg{spot: event.SpotNumber, payload: payload}:
	default:
		h.log.Warn().Str("spot", event.SpotNumber).Msg("broadcast channel full, dropping event")
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Serve upgrades the request and attaches a client subscribed to spot.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, spot string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 64),
		spot: spot,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
	return nil
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
