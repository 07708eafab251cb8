// WebSocket transport: outbound phase/note/viz streams for renderers and
// inbound engine control (start, stop, audio clock, parameters, light).
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/songpond/internal/engine"
	"github.com/talgya/songpond/internal/harmony"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Size of client send buffer.
	sendBufferSize = 256
)

// Channel names for subscriptions.
const (
	ChannelPhases = "phases"
	ChannelNotes  = "notes"
	ChannelViz    = "viz"
	ChannelStatus = "status"
)

// Inbound control message types.
const (
	TypeStart        = "start"
	TypeStop         = "stop"
	TypeAudioTime    = "audioTime"
	TypeSetParameter = "setParameter"
	TypeLightLevel   = "lightLevel"
	TypeSubscribe    = "subscribe"
	TypePing         = "ping"
)

// Outbound message types beyond the data channels.
const (
	TypePong  = "pong"
	TypeError = "error"
)

// Envelope is the WebSocket message envelope, both directions.
type Envelope struct {
	Type      string   `json:"type"`
	Data      any      `json:"data,omitempty"`
	Time      float64  `json:"time,omitempty"`  // audioTime payload, seconds
	Name      string   `json:"name,omitempty"`  // setParameter name
	Value     float64  `json:"value,omitempty"` // setParameter / lightLevel value
	Channels  []string `json:"channels,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Renderers connect from anywhere on the local setup.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// outbound is one broadcast payload bound for a channel's subscribers.
type outbound struct {
	channel string
	data    []byte
}

// Hub fans engine output out to renderer clients and routes their control
// messages back to the engine. Implements engine.Emitter.
type Hub struct {
	eng *engine.Engine

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound
}

// NewHub creates a hub wired to an engine.
func NewHub(eng *engine.Engine) *Hub {
	return &Hub{
		eng:        eng,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 256),
	}
}

// statusPeriod is how often the status channel gets a fresh snapshot.
const statusPeriod = time.Second

// Run dispatches registrations and broadcasts. Start in a goroutine.
func (h *Hub) Run() {
	statusTicker := time.NewTicker(statusPeriod)
	defer statusTicker.Stop()

	for {
		select {
		case <-statusTicker.C:
			if sv := h.eng.Sim.Status(); sv != nil && len(h.clients) > 0 {
				h.publish(ChannelStatus, sv)
			}
		case c := <-h.register:
			h.clients[c] = true
			slog.Info("renderer connected", "clients", len(h.clients))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				slog.Info("renderer disconnected", "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.IsSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer: drop rather than stall the engine.
				}
			}
		}
	}
}

// publish marshals an envelope onto a channel, dropping on backpressure.
func (h *Hub) publish(channel string, data any) {
	env := Envelope{
		Type:      channel,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("envelope marshal failed", "channel", channel, "error", err)
		return
	}
	select {
	case h.broadcast <- outbound{channel: channel, data: payload}:
	default:
	}
}

// EmitPhases broadcasts the per-tick phase snapshot.
func (h *Hub) EmitPhases(snap engine.PhaseSnapshot) {
	h.publish(ChannelPhases, snap)
}

// EmitNotes broadcasts a tick's note batch.
func (h *Hub) EmitNotes(notes []harmony.NoteEvent) {
	h.publish(ChannelNotes, notes)
}

// EmitViz broadcasts the lower-rate visualization snapshot.
func (h *Hub) EmitViz(snap engine.VizSnapshot) {
	h.publish(ChannelViz, snap)
}

// ServeWS upgrades an HTTP request into a renderer connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := newClient(h, conn)
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// Client is a single renderer connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu         sync.RWMutex
	subscriptions map[string]bool
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	// Clients receive everything until they narrow with a subscribe.
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subscriptions: map[string]bool{
			ChannelPhases: true,
			ChannelNotes:  true,
			ChannelViz:    true,
			ChannelStatus: true,
		},
	}
}

// IsSubscribed checks if the client is subscribed to a channel.
func (c *Client) IsSubscribed(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[channel]
}

func (c *Client) setSubscriptions(channels []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscriptions = make(map[string]bool, len(channels))
	for _, ch := range channels {
		switch ch {
		case ChannelPhases, ChannelNotes, ChannelViz, ChannelStatus:
			c.subscriptions[ch] = true
		default:
			slog.Warn("unknown subscription channel", "channel", ch)
		}
	}
}

// readPump pumps control messages from the connection into the engine.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "error", err)
			}
			break
		}
		c.handleMessage(message)
	}
}

// handleMessage routes one inbound control envelope.
func (c *Client) handleMessage(message []byte) {
	var msg Envelope
	if err := json.Unmarshal(message, &msg); err != nil {
		c.sendError("invalid_json", "failed to parse message")
		return
	}

	switch msg.Type {
	case TypeAudioTime:
		c.hub.eng.Clock.Submit(msg.Time)
	case TypeStart:
		c.hub.eng.Submit(engine.Command{Kind: engine.CmdStart})
	case TypeStop:
		c.hub.eng.Submit(engine.Command{Kind: engine.CmdStop})
	case TypeSetParameter:
		c.hub.eng.Submit(engine.Command{Kind: engine.CmdSetParameter, Name: msg.Name, Value: msg.Value})
	case TypeLightLevel:
		c.hub.eng.Submit(engine.Command{Kind: engine.CmdLightLevel, Value: msg.Value})
	case TypeSubscribe:
		if len(msg.Channels) == 0 {
			c.sendError("invalid_subscribe", "no channels specified")
			return
		}
		c.setSubscriptions(msg.Channels)
	case TypePing:
		c.reply(Envelope{Type: TypePong, Timestamp: time.Now().UTC().Format(time.RFC3339)})
	default:
		slog.Warn("unknown control message type", "type", msg.Type)
	}
}

func (c *Client) reply(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(code, message string) {
	c.reply(Envelope{
		Type:      TypeError,
		Data:      map[string]string{"code": code, "message": message},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// writePump pumps broadcasts from the hub to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
