package push

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ibrahiminano/pipflow-sub001/internal/infrastructure"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// topicPrefix limits clients to the result subjects.
const topicPrefix = "lab."

// Subscriber is the part of JetStream the gateway needs.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// control is a client request.
type control struct {
	Action string `json:"action"` // "subscribe", "unsubscribe"
	Topic  string `json:"topic"`
}

// reply acknowledges a control request.
type reply struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// PushGateway relays lab.* results and progress to websocket clients. One
// NATS subscription is shared by every client of a topic.
type PushGateway struct {
	logger        *zap.Logger
	js            Subscriber
	clients       map[*Client]bool
	subscriptions map[string]map[*Client]bool
	natsSubs      map[string]*nats.Subscription
	mu            sync.RWMutex
}

func NewPushGateway(js Subscriber, logger *zap.Logger) *PushGateway {
	return &PushGateway{
		logger:        logger,
		js:            js,
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		natsSubs:      make(map[string]*nats.Subscription),
	}
}

// ValidTopic accepts lab subjects, wildcards included.
func ValidTopic(topic string) error {
	if !strings.HasPrefix(topic, topicPrefix) || len(topic) == len(topicPrefix) {
		return fmt.Errorf("topic %q must start with %s", topic, topicPrefix)
	}
	if strings.ContainsAny(topic, " \t\r\n") {
		return fmt.Errorf("topic %q contains whitespace", topic)
	}
	return nil
}

func (g *PushGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("failed to upgrade websocket", zap.Error(err))
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
	}

	g.mu.Lock()
	g.clients[client] = true
	g.mu.Unlock()
	infrastructure.WSConnections.Inc()

	go g.writePump(client)
	g.readPump(client)
}

// Clients is the number of connected clients.
func (g *PushGateway) Clients() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *PushGateway) readPump(c *Client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		for topic := range g.subscriptions {
			g.removeLocked(topic, c)
		}
		close(c.send)
		g.mu.Unlock()
		infrastructure.WSConnections.Dec()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var req control
		if err := json.Unmarshal(message, &req); err != nil {
			continue
		}
		g.queue(c, g.handle(c, req))
	}
}

// handle applies one control request and returns the acknowledgement.
func (g *PushGateway) handle(c *Client, req control) reply {
	out := reply{Action: req.Action, Topic: req.Topic}
	if err := ValidTopic(req.Topic); err != nil {
		out.Error = err.Error()
		return out
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	switch req.Action {
	case "subscribe":
		if g.subscriptions[req.Topic] == nil {
			if err := g.subscribeToNATS(req.Topic); err != nil {
				g.logger.Error("failed to subscribe to NATS", zap.String("topic", req.Topic), zap.Error(err))
				out.Error = "subscription failed"
				return out
			}
			g.subscriptions[req.Topic] = make(map[*Client]bool)
		}
		g.subscriptions[req.Topic][c] = true
		g.logger.Info("client subscribed to topic", zap.String("topic", req.Topic))
	case "unsubscribe":
		g.removeLocked(req.Topic, c)
	default:
		out.Error = fmt.Sprintf("unknown action %q", req.Action)
		return out
	}
	out.OK = true
	return out
}

// removeLocked drops c from topic and releases the NATS subscription when
// no client is left. g.mu must be held.
func (g *PushGateway) removeLocked(topic string, c *Client) {
	clients, ok := g.subscriptions[topic]
	if !ok {
		return
	}
	delete(clients, c)
	if len(clients) > 0 {
		return
	}
	if sub, ok := g.natsSubs[topic]; ok {
		sub.Unsubscribe()
		delete(g.natsSubs, topic)
		g.logger.Info("unsubscribed from NATS as no clients left", zap.String("topic", topic))
	}
	delete(g.subscriptions, topic)
}

func (g *PushGateway) queue(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (g *PushGateway) writePump(c *Client) {
	defer c.conn.Close()
	for {
		message, ok := <-c.send
		if !ok {
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

// subscribeToNATS must be called with g.mu held.
func (g *PushGateway) subscribeToNATS(topic string) error {
	// topic can be "lab.progress.<run>" or "lab.backtest.*"
	sub, err := g.js.Subscribe(topic, func(msg *nats.Msg) {
		g.broadcast(topic, msg.Data)
		msg.Ack()
	}, nats.DeliverNew(), nats.ManualAck())

	if err != nil {
		return err
	}

	g.natsSubs[topic] = sub
	g.logger.Info("subscribed to NATS topic", zap.String("topic", topic))
	return nil
}

func (g *PushGateway) broadcast(topic string, data []byte) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	sent := 0
	for c := range g.subscriptions[topic] {
		select {
		case c.send <- data:
			sent++
		default:
			// Do not block, just drop if channel is full
		}
	}
	return sent
}
