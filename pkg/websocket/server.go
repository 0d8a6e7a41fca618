// Package websocket provides a WebSocket feed of committed vault events
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/luxfi/log"

	"github.com/luxfi/thetavault/pkg/events"
)

// Channels a client may subscribe to. Account channels are
// WithdrawalsPrefix followed by the hex address.
const (
	EventsChannel     = "events"
	RoundsChannel     = "rounds"
	WithdrawalsPrefix = "withdrawals:"
)

// roundEvents are the events published on RoundsChannel.
var roundEvents = map[string]bool{
	"NewOptionStrikeSelected": true,
	"CloseShort":              true,
	"OpenShort":               true,
	"AuctionStarted":          true,
	"CollectVaultFees":        true,
	"RoundClosed":             true,
	"BurnOtokens":             true,
}

// withdrawalEvents are also published on the account's withdrawals channel.
var withdrawalEvents = map[string]bool{
	"InitiateWithdraw": true,
	"Withdraw":         true,
	"InstantWithdraw":  true,
}

// Server fans vault events out to WebSocket clients
type Server struct {
	logger log.Logger
	config Config

	// Client management
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan Message

	// Subscription management
	subscriptions map[string]map[*Client]bool // channel -> clients
	subMu         sync.RWMutex

	// Stats
	messagesOut uint64
	dropped     uint64
	sequence    uint64
	clientCount int32

	snapshot  func() (interface{}, error)
	onClients func(int)

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Client represents a WebSocket client connection
type Client struct {
	id       string
	conn     *websocket.Conn
	server   *Server
	send     chan []byte
	channels map[string]bool
	closed   bool
	mu       sync.RWMutex
}

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	Channel   string      `json:"channel,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
	Sequence  uint64      `json:"sequence,omitempty"`
}

// SubscribeRequest represents a subscription request
type SubscribeRequest struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Config holds WebSocket server configuration
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	MaxMessageSize  int64
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	PingPeriod      time.Duration
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MaxMessageSize:  64 * 1024,
		WriteTimeout:    10 * time.Second,
		PongTimeout:     60 * time.Second,
		PingPeriod:      54 * time.Second, // Must be less than PongTimeout
	}
}

// NewServer creates a new WebSocket server
func NewServer(logger log.Logger, config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		logger:        logger,
		config:        config,
		clients:       make(map[*Client]bool),
		register:      make(chan *Client, 100),
		unregister:    make(chan *Client, 100),
		broadcast:     make(chan Message, 1000),
		subscriptions: make(map[string]map[*Client]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// SetSnapshot installs the function used to send the current vault state
// to clients subscribing to the rounds channel. Call before Run.
func (s *Server) SetSnapshot(fn func() (interface{}, error)) {
	s.snapshot = fn
}

// OnClientCount is called from the hub whenever a client connects or
// disconnects. Call before Run.
func (s *Server) OnClientCount(fn func(int)) {
	s.onClients = fn
}

// Handler serves the upgrade endpoint at /ws and a health check at /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Run starts the hub goroutine.
func (s *Server) Run() {
	s.wg.Add(1)
	go s.runHub()
}

// Start runs the hub and serves Handler on addr until Stop.
func (s *Server) Start(addr string) error {
	s.Run()

	s.logger.Info("WebSocket server starting", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-s.ctx.Done()
		server.Shutdown(context.Background())
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("WebSocket server error: %w", err)
	}
	return nil
}

// Stop shuts down the WebSocket server
func (s *Server) Stop() {
	s.once.Do(func() {
		s.logger.Info("Stopping WebSocket server")
		s.cancel()
		s.wg.Wait()
	})
}

// runHub manages client connections and message routing
func (s *Server) runHub() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.clientsMu.Lock()
			for client := range s.clients {
				delete(s.clients, client)
				client.close()
			}
			s.clientsMu.Unlock()
			return

		case client := <-s.register:
			s.clientsMu.Lock()
			s.clients[client] = true
			n := atomic.AddInt32(&s.clientCount, 1)
			s.clientsMu.Unlock()
			s.reportClients(n)
			s.logger.Debug("Client connected", "id", client.id, "total", n)

		case client := <-s.unregister:
			s.removeClient(client)

		case message := <-s.broadcast:
			s.broadcastMessage(message)

		case <-ticker.C:
			s.logger.Debug("WebSocket stats",
				"clients", atomic.LoadInt32(&s.clientCount),
				"messages", atomic.LoadUint64(&s.messagesOut),
				"dropped", atomic.LoadUint64(&s.dropped))
		}
	}
}

// removeClient runs on the hub goroutine only.
func (s *Server) removeClient(client *Client) {
	s.clientsMu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
		client.close()
	}
	s.clientsMu.Unlock()
	if !ok {
		return
	}
	n := atomic.AddInt32(&s.clientCount, -1)

	s.unsubscribeAll(client)
	s.reportClients(n)
	s.logger.Debug("Client disconnected", "id", client.id, "total", n)
}

func (s *Server) reportClients(n int32) {
	if s.onClients != nil {
		s.onClients(int(n))
	}
}

// handleWebSocket handles WebSocket upgrade and client connection
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.config.ReadBufferSize,
		WriteBufferSize: s.config.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		id:       uuid.NewString(),
		conn:     conn,
		server:   s,
		send:     make(chan []byte, s.config.SendBuffer),
		channels: make(map[string]bool),
	}

	// Queue the welcome before the hub can see the client
	client.sendMessage(Message{
		Type:      "welcome",
		Data:      map[string]interface{}{"id": client.id},
		Timestamp: time.Now().Unix(),
	})
	select {
	case s.register <- client:
	case <-s.ctx.Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// handleHealth provides health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "healthy",
		"clients":  atomic.LoadInt32(&s.clientCount),
		"messages": atomic.LoadUint64(&s.messagesOut),
	})
}

// readPump handles incoming messages from client
func (c *Client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.ctx.Done():
		}
		c.conn.Close()
	}()

	cfg := c.server.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		return nil
	})

	for {
		var msg json.RawMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("WebSocket read error", "id", c.id, "error", err)
			}
			break
		}
		c.handleMessage(msg)
	}
}

// writePump handles outgoing messages to client
func (c *Client) writePump() {
	cfg := c.server.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			atomic.AddUint64(&c.server.messagesOut, 1)

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming client messages
func (c *Client) handleMessage(raw json.RawMessage) {
	var req SubscribeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError("Invalid message format")
		return
	}

	switch req.Type {
	case "subscribe":
		c.handleSubscribe(req.Channels)
	case "unsubscribe":
		c.handleUnsubscribe(req.Channels)
	case "ping":
		c.sendMessage(Message{Type: "pong", Timestamp: time.Now().Unix()})
	case "":
		c.sendError("Missing message type")
	default:
		c.sendError(fmt.Sprintf("Unknown message type: %s", req.Type))
	}
}

// ChannelName validates a requested channel and returns its canonical name.
func ChannelName(channel string) (string, bool) {
	switch {
	case channel == EventsChannel || channel == RoundsChannel:
		return channel, true
	case strings.HasPrefix(channel, WithdrawalsPrefix):
		addr := strings.TrimPrefix(channel, WithdrawalsPrefix)
		if !common.IsHexAddress(addr) {
			return "", false
		}
		return WithdrawalsChannel(common.HexToAddress(addr)), true
	default:
		return "", false
	}
}

// WithdrawalsChannel is the channel carrying an account's withdrawal events.
func WithdrawalsChannel(account common.Address) string {
	return WithdrawalsPrefix + strings.ToLower(account.Hex())
}

// handleSubscribe handles subscription requests
func (c *Client) handleSubscribe(requested []string) {
	if len(requested) == 0 {
		c.sendError("Invalid channels format")
		return
	}

	subscribed := make([]string, 0, len(requested))
	for _, ch := range requested {
		channel, ok := ChannelName(ch)
		if !ok {
			c.sendError(fmt.Sprintf("Unknown channel: %s", ch))
			continue
		}

		c.mu.Lock()
		c.channels[channel] = true
		c.mu.Unlock()

		c.server.subscribe(channel, c)
		subscribed = append(subscribed, channel)
	}

	c.sendMessage(Message{
		Type:      "subscribed",
		Data:      map[string]interface{}{"channels": subscribed},
		Timestamp: time.Now().Unix(),
	})

	for _, channel := range subscribed {
		if channel == RoundsChannel {
			c.sendSnapshot()
		}
	}
}

// handleUnsubscribe handles unsubscription requests
func (c *Client) handleUnsubscribe(requested []string) {
	removed := make([]string, 0, len(requested))
	for _, ch := range requested {
		channel, ok := ChannelName(ch)
		if !ok {
			continue
		}

		c.mu.Lock()
		delete(c.channels, channel)
		c.mu.Unlock()

		c.server.unsubscribe(channel, c)
		removed = append(removed, channel)
	}

	c.sendMessage(Message{
		Type:      "unsubscribed",
		Data:      map[string]interface{}{"channels": removed},
		Timestamp: time.Now().Unix(),
	})
}

// sendSnapshot sends the current vault state
func (c *Client) sendSnapshot() {
	if c.server.snapshot == nil {
		return
	}
	state, err := c.server.snapshot()
	if err != nil {
		c.server.logger.Warn("Vault snapshot failed", "error", err)
		c.sendError("Snapshot unavailable")
		return
	}
	c.sendMessage(Message{
		Type:      "snapshot",
		Channel:   RoundsChannel,
		Data:      state,
		Timestamp: time.Now().Unix(),
	})
}

// sendMessage queues a message for the client, dropping it if the client
// is not keeping up.
func (c *Client) sendMessage(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.server.logger.Error("Failed to marshal message", "error", err)
		return
	}

	if sent, open := c.trySend(data); open && !sent {
		atomic.AddUint64(&c.server.dropped, 1)
		c.server.logger.Warn("Client send buffer full, dropping message", "id", c.id, "type", msg.Type)
	}
}

// trySend queues data without blocking. open is false once the client has
// been closed.
func (c *Client) trySend(data []byte) (sent, open bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false, false
	}
	select {
	case c.send <- data:
		return true, true
	default:
		return false, true
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendError sends an error message to the client
func (c *Client) sendError(message string) {
	c.sendMessage(Message{
		Type:      "error",
		Data:      map[string]interface{}{"message": message},
		Timestamp: time.Now().Unix(),
	})
}

// subscribe adds a client to a channel
func (s *Server) subscribe(channel string, client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if s.subscriptions[channel] == nil {
		s.subscriptions[channel] = make(map[*Client]bool)
	}
	s.subscriptions[channel][client] = true
}

// unsubscribe removes a client from a channel
func (s *Server) unsubscribe(channel string, client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if clients, ok := s.subscriptions[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subscriptions, channel)
		}
	}
}

// unsubscribeAll removes a client from all channels
func (s *Server) unsubscribeAll(client *Client) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for channel, clients := range s.subscriptions {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.subscriptions, channel)
		}
	}
}

// broadcastMessage runs on the hub goroutine and sends a message to every
// client subscribed to its channel.
func (s *Server) broadcastMessage(msg Message) {
	s.subMu.RLock()
	clients := make([]*Client, 0, len(s.subscriptions[msg.Channel]))
	for client := range s.subscriptions[msg.Channel] {
		clients = append(clients, client)
	}
	s.subMu.RUnlock()

	if len(clients) == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error("Failed to marshal broadcast message", "error", err)
		return
	}

	for _, client := range clients {
		if sent, open := client.trySend(data); open && !sent {
			s.logger.Warn("Disconnecting slow client", "id", client.id)
			s.removeClient(client)
		}
	}
}

// Deliver implements events.Sink. It never blocks the vault: when the
// broadcast queue is full the envelope is dropped.
func (s *Server) Deliver(env events.Envelope) {
	for _, channel := range Channels(env) {
		msg := Message{
			Type:      "event",
			Channel:   channel,
			Data:      env,
			Timestamp: env.Time.Unix(),
			Sequence:  atomic.AddUint64(&s.sequence, 1),
		}
		select {
		case s.broadcast <- msg:
		default:
			atomic.AddUint64(&s.dropped, 1)
			s.logger.Warn("Broadcast queue full, dropping event", "event", env.Name, "channel", channel)
		}
	}
}

// Channels lists the channels an envelope is published on.
func Channels(env events.Envelope) []string {
	channels := []string{EventsChannel}
	if roundEvents[env.Name] {
		channels = append(channels, RoundsChannel)
	}
	if withdrawalEvents[env.Name] {
		var payload struct {
			Account common.Address `json:"account"`
		}
		if err := env.Decode(&payload); err == nil && payload.Account != (common.Address{}) {
			channels = append(channels, WithdrawalsChannel(payload.Account))
		}
	}
	return channels
}

// GetStats returns server statistics
func (s *Server) GetStats() map[string]interface{} {
	s.subMu.RLock()
	numChannels := len(s.subscriptions)
	s.subMu.RUnlock()

	return map[string]interface{}{
		"clients":       atomic.LoadInt32(&s.clientCount),
		"messages_sent": atomic.LoadUint64(&s.messagesOut),
		"dropped":       atomic.LoadUint64(&s.dropped),
		"channels":      numChannels,
	}
}
