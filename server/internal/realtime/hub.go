// Package realtime serves the room WebSocket endpoint. It authenticates
// peers, tracks which rooms each peer has joined, fans chat messages out to
// room members and runs agent turns.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/huddle-chat/huddle/pkg/protocol"
	"github.com/huddle-chat/huddle/server/internal/agent"
	"github.com/huddle-chat/huddle/server/internal/auth"
	"github.com/huddle-chat/huddle/server/internal/store"
)

const storeTimeout = 5 * time.Second

// historyLimit is how many recent room messages an agent turn sees.
const historyLimit = 10

// TokenValidator resolves a bearer token to an identity.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Identity, error)
}

// Options configures the Hub.
type Options struct {
	AllowedOrigins  []string      // for the WebSocket origin check
	MaxMessageBytes int64         // max frame size from clients (default 64KB)
	AgentName       string        // display name on agent messages
	ThinkDelay      time.Duration // pause between agent status updates
	AgentTimeout    time.Duration // bound on one responder call (default 30s)
	PingInterval    time.Duration
	PongWait        time.Duration
}

// Stats is a point-in-time count of live sessions.
type Stats struct {
	Peers int `json:"peers"`
	Rooms int `json:"rooms"`
}

// Hub manages all WebSocket peers and their room membership.
type Hub struct {
	store    store.Store
	tokens   TokenValidator
	agent    agent.Responder
	logger   *slog.Logger
	upgrader websocket.Upgrader
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	turns  sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	peers  map[string]*peer            // peer_id -> peer
	rooms  map[string]map[string]*peer // room_code -> peer_id -> peer
	busy   map[string]bool             // rooms with an agent turn in flight
}

type peer struct {
	id     string
	userID string
	name   string
	conn   *websocket.Conn
	mu     sync.Mutex      // serializes writes
	rooms  map[string]bool // guarded by Hub.mu
}

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// New creates a Hub.
func New(s store.Store, tokens TokenValidator, responder agent.Responder, logger *slog.Logger, opts Options) *Hub {
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 64 * 1024
	}
	if opts.AgentName == "" {
		opts.AgentName = "Agent"
	}
	if opts.AgentTimeout <= 0 {
		opts.AgentTimeout = 30 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		store:    s,
		tokens:   tokens,
		agent:    responder,
		logger:   logger.With("component", "realtime"),
		upgrader: makeUpgrader(opts.AllowedOrigins),
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[string]*peer),
		rooms:    make(map[string]map[string]*peer),
		busy:     make(map[string]bool),
	}
}

// Stats returns live peer and room counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{Peers: len(h.peers), Rooms: len(h.rooms)}
}

// Close stops agent turns and disconnects every peer with a going-away close.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	h.cancel()
	h.turns.Wait()
	for _, p := range peers {
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// HandleWS authenticates the bearer token, upgrades the connection and serves
// the peer until it disconnects.
func (h *Hub) HandleWS(w http.ResponseWriter, req *http.Request) {
	identity, err := h.tokens.ValidateToken(req.Context(), bearerToken(req))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	p := &peer{
		id:     uuid.New().String(),
		userID: identity.UserID,
		name:   identity.Name,
		conn:   conn,
		rooms:  make(map[string]bool),
	}

	conn.SetReadLimit(h.opts.MaxMessageBytes)
	cancelKeepalive := startKeepalive(conn, &p.mu, h.opts.PingInterval, h.opts.PongWait)
	defer cancelKeepalive()

	if !identity.ExpiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(identity.ExpiresAt), func() {
			h.logger.Info("token expired, closing session", "user_id", p.userID, "peer_id", p.id)
			p.closeWith(protocol.CloseTokenExpired, "token expired")
		})
		defer expiry.Stop()
	}

	if !h.register(p) {
		p.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.unregister(p)

	h.logger.Info("peer connected", "user_id", p.userID, "peer_id", p.id)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("peer read error", "peer_id", p.id, "error", err)
			return
		}
		// Any frame proves liveness.
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil || env.Event == "" {
			h.logger.Warn("invalid frame from peer", "peer_id", p.id, "error", err)
			h.sendError(p, "malformed frame")
			continue
		}
		h.handle(p, env)
	}
}

func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return req.URL.Query().Get("token")
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.peers[p.id] = p
	return true
}

// unregister drops the peer and treats every room it was still in as left.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	delete(h.peers, p.id)
	left := make([]string, 0, len(p.rooms))
	for code := range p.rooms {
		h.removeLocked(code, p)
		left = append(left, code)
	}
	h.mu.Unlock()

	for _, code := range left {
		h.broadcast(code, protocol.EventUserLeft, p.presence())
	}
	h.logger.Info("peer disconnected", "user_id", p.userID, "peer_id", p.id, "rooms_left", len(left))
}

func (h *Hub) removeLocked(code string, p *peer) {
	delete(p.rooms, code)
	if members := h.rooms[code]; members != nil {
		delete(members, p.id)
		if len(members) == 0 {
			delete(h.rooms, code)
		}
	}
}

func (h *Hub) handle(p *peer, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoinRoom:
		var req protocol.JoinRoom
		if err := env.Decode(&req); err != nil {
			h.sendError(p, "room_code is required")
			return
		}
		h.join(p, normalizeCode(req.RoomCode))
	case protocol.EventSendMessage:
		var req protocol.SendMessage
		if err := env.Decode(&req); err != nil {
			h.sendError(p, "room_code and message are required")
			return
		}
		h.send(p, normalizeCode(req.RoomCode), req.Message)
	case protocol.EventLeaveRoom:
		var req protocol.LeaveRoom
		if err := env.Decode(&req); err != nil {
			h.sendError(p, "room_code is required")
			return
		}
		h.leave(p, normalizeCode(req.RoomCode))
	default:
		h.sendError(p, fmt.Sprintf("unknown event %q", env.Event))
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (h *Hub) join(p *peer, code string) {
	if code == "" {
		h.sendError(p, "room_code is required")
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
	defer cancel()

	room, err := h.store.GetRoom(ctx, code)
	if err != nil {
		h.logger.Warn("room lookup failed", "room", code, "error", err)
		h.sendError(p, "internal error")
		return
	}
	if room == nil {
		h.sendError(p, "Room not found")
		return
	}

	h.mu.Lock()
	already := p.rooms[code]
	if !already {
		p.rooms[code] = true
		if h.rooms[code] == nil {
			h.rooms[code] = make(map[string]*peer)
		}
		h.rooms[code][p.id] = p
	}
	h.mu.Unlock()

	if err := h.store.AddMember(ctx, code, p.userID); err != nil {
		h.logger.Warn("record membership failed", "room", code, "user_id", p.userID, "error", err)
	}
	if already {
		return
	}

	h.logger.Info("peer joined room", "room", code, "user_id", p.userID, "peer_id", p.id)
	h.broadcast(code, protocol.EventUserJoined, p.presence())
}

func (h *Hub) send(p *peer, code, text string) {
	h.mu.RLock()
	joined := p.rooms[code]
	h.mu.RUnlock()
	if !joined {
		h.sendError(p, "not in room "+code)
		return
	}
	if strings.TrimSpace(text) == "" {
		h.sendError(p, "message is empty")
		return
	}

	h.broadcastMessage(code, p.userID, p.name, text)
	h.persist(code, p.userID, text)

	if prompt, ok := agent.Prompt(text); ok {
		h.startAgentTurn(p, code, prompt)
	}
}

func (h *Hub) leave(p *peer, code string) {
	h.mu.Lock()
	joined := p.rooms[code]
	if joined {
		h.removeLocked(code, p)
	}
	h.mu.Unlock()
	if !joined {
		return
	}

	h.logger.Info("peer left room", "room", code, "user_id", p.userID, "peer_id", p.id)
	h.broadcast(code, protocol.EventUserLeft, p.presence())
}

func (h *Hub) persist(code, userID, text string) {
	ctx, cancel := context.WithTimeout(h.ctx, storeTimeout)
	defer cancel()
	_, err := h.store.AppendMessage(ctx, &store.Message{
		RoomCode:  code,
		UserID:    userID,
		Content:   text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.logger.Warn("persist message failed", "room", code, "error", err)
	}
}

// --- Agent turns ---

func (h *Hub) startAgentTurn(p *peer, code, prompt string) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	if h.busy[code] {
		h.mu.Unlock()
		h.sendError(p, "agent is busy, try again shortly")
		return
	}
	h.busy[code] = true
	h.turns.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.turns.Done()
		defer func() {
			h.mu.Lock()
			delete(h.busy, code)
			h.mu.Unlock()
		}()
		h.runAgentTurn(code, prompt)
	}()
}

func (h *Hub) runAgentTurn(code, prompt string) {
	h.broadcast(code, protocol.EventAgentStatus, protocol.AgentStatus{Status: protocol.AgentThinking})
	if !h.pause() {
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.opts.AgentTimeout)
	reply, err := h.agent.Respond(ctx, agent.Request{
		RoomCode: code,
		Prompt:   prompt,
		History:  h.history(ctx, code),
	})
	cancel()
	if err != nil {
		if h.ctx.Err() != nil {
			return
		}
		h.logger.Warn("agent turn failed", "room", code, "error", err)
		h.broadcast(code, protocol.EventAgentStatus, protocol.AgentStatus{Status: protocol.AgentFailed, Error: err.Error()})
		h.broadcast(code, protocol.EventError, protocol.Error{Message: "Agent error occurred"})
		return
	}

	h.broadcast(code, protocol.EventAgentStatus, protocol.AgentStatus{Status: protocol.AgentResponding})
	if !h.pause() {
		return
	}
	h.broadcastMessage(code, protocol.AgentUserID, h.opts.AgentName, reply)
	h.persist(code, protocol.AgentUserID, reply)
	h.broadcast(code, protocol.EventAgentStatus, protocol.AgentStatus{Status: protocol.AgentIdle})
}

// history loads the room's recent messages for an agent turn. A store error
// leaves the turn without context rather than failing it.
func (h *Hub) history(ctx context.Context, code string) []agent.Turn {
	msgs, err := h.store.RecentMessages(ctx, code, historyLimit)
	if err != nil {
		h.logger.Warn("load room history failed", "room", code, "error", err)
		return nil
	}
	turns := make([]agent.Turn, 0, len(msgs))
	for _, m := range msgs {
		t := agent.Turn{Sender: m.UserName, Content: m.Content}
		switch {
		case m.UserID == protocol.AgentUserID:
			t.Sender, t.FromAgent = h.opts.AgentName, true
		case t.Sender == "":
			t.Sender = "User " + m.UserID
		}
		turns = append(turns, t)
	}
	return turns
}

// pause waits ThinkDelay and reports false if the hub closed meanwhile.
func (h *Hub) pause() bool {
	if h.opts.ThinkDelay <= 0 {
		return h.ctx.Err() == nil
	}
	t := time.NewTimer(h.opts.ThinkDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// --- Delivery ---

func (h *Hub) members(code string) []*peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[code]
	out := make([]*peer, 0, len(members))
	for _, p := range members {
		out = append(out, p)
	}
	return out
}

// broadcast sends the same frame to every peer in the room.
func (h *Hub) broadcast(code, event string, payload any) {
	data, err := encode(event, payload)
	if err != nil {
		h.logger.Warn("marshal error", "event", event, "error", err)
		return
	}
	for _, p := range h.members(code) {
		if err := p.write(data); err != nil {
			h.logger.Debug("send to peer failed", "peer_id", p.id, "error", err)
		}
	}
}

// broadcastMessage fans a chat message out with is_self set per recipient.
func (h *Hub) broadcastMessage(code, senderID, senderName, text string) {
	msg := protocol.NewMessage{
		UserID:   protocol.UserID(senderID),
		Username: senderName,
		Message:  text,
	}
	for _, p := range h.members(code) {
		msg.IsSelf = p.userID == senderID
		data, err := encode(protocol.EventNewMessage, msg)
		if err != nil {
			h.logger.Warn("marshal error", "event", protocol.EventNewMessage, "error", err)
			return
		}
		if err := p.write(data); err != nil {
			h.logger.Debug("send to peer failed", "peer_id", p.id, "error", err)
		}
	}
}

func (h *Hub) sendError(p *peer, message string) {
	data, err := encode(protocol.EventError, protocol.Error{Message: message})
	if err != nil {
		return
	}
	if err := p.write(data); err != nil {
		h.logger.Debug("send to peer failed", "peer_id", p.id, "error", err)
	}
}

func encode(event string, payload any) ([]byte, error) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (p *peer) presence() protocol.UserPresence {
	return protocol.UserPresence{UserID: protocol.UserID(p.userID), Username: p.name}
}

func (p *peer) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *peer) closeWith(code int, reason string) {
	p.mu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	p.mu.Unlock()
	_ = p.conn.Close()
}
