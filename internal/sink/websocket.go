package sink

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signalfusion/internal/model"
)

// Envelope is the frame pushed to each WebSocket client.
type Envelope struct {
	Seq      int64               `json:"seq"`
	Record   model.FeatureRecord `json:"record"`
	Decision *model.Decision     `json:"decision,omitempty"`
}

// WebSocket is a RecordSink that broadcasts every record to connected
// clients. Slow clients drop frames rather than stall the pipeline; a
// reconnecting client passes ?since=<seq> to replay what it missed.
type WebSocket struct {
	upgrader websocket.Upgrader
	replay   *replayBuffer

	mu      sync.RWMutex
	clients map[*wsClient]bool
	seq     int64
	closed  bool

	// OnDrop is called when a frame is dropped for a slow client (optional).
	OnDrop func()
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewWebSocket creates a broadcaster retaining replaySize recent frames.
func NewWebSocket(replaySize int) *WebSocket {
	return &WebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		replay:  newReplayBuffer(replaySize),
		clients: make(map[*wsClient]bool),
	}
}

// ServeHTTP upgrades the connection and registers the client.
func (ws *WebSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 256)}
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		since = -1
	}
	count, ok := ws.register(c, since)
	if !ok {
		conn.Close()
		return
	}

	log.Printf("[ws] client connected (%d total)", count)
	go ws.writePump(c)
	go ws.readPump(c)
}

// register queues the frames newer than since (none when since < 0) and adds
// c to the broadcast set under one lock, so no Emit lands between the two.
func (ws *WebSocket) register(c *wsClient, since int64) (int, bool) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return 0, false
	}
	if since >= 0 {
		for _, e := range ws.replay.since(since) {
			select {
			case c.send <- e.Data:
			default:
			}
		}
	}
	ws.clients[c] = true
	return len(ws.clients), true
}

// Clients returns the number of connected clients.
func (ws *WebSocket) Clients() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.clients)
}

func (ws *WebSocket) Emit(_ context.Context, rec model.FeatureRecord, dec *model.Decision) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return nil
	}

	ws.seq++
	data, err := json.Marshal(Envelope{Seq: ws.seq, Record: rec, Decision: dec})
	if err != nil {
		return err
	}
	ws.replay.push(ws.seq, data)

	for c := range ws.clients {
		select {
		case c.send <- data:
		default:
			if ws.OnDrop != nil {
				ws.OnDrop()
			}
		}
	}
	return nil
}

// Close disconnects every client.
func (ws *WebSocket) Close() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.closed = true
	for c := range ws.clients {
		ws.drop(c)
	}
	return nil
}

// drop unregisters c; callers hold ws.mu.
func (ws *WebSocket) drop(c *wsClient) {
	delete(ws.clients, c)
	c.once.Do(func() { close(c.send) })
}

func (ws *WebSocket) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; clients do not send commands.
func (ws *WebSocket) readPump(c *wsClient) {
	defer func() {
		ws.mu.Lock()
		if ws.clients[c] {
			ws.drop(c)
		}
		ws.mu.Unlock()
		c.conn.Close()
		log.Println("[ws] client disconnected")
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
