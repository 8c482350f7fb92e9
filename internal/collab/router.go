package collab

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"collab-app/internal/database"
	"collab-app/internal/models"
	"collab-app/pkg/logger"
)

// Peer is one live, authenticated connection as the router sees it. Send
// must never block; it reports false when the peer's buffer is full or the
// peer is gone. The narrow interface keeps the event state machine testable
// without a live transport.
type Peer interface {
	ID() string
	UserID() int
	Username() string
	Send(payload []byte) bool
}

// Router owns the connection table and each connection's current room, and
// dispatches inbound session events to their delivery scope: room broadcast,
// broadcast excluding the sender, or unicast to one peer.
type Router struct {
	registry *Registry
	gate     *Gate
	chats    database.ChatStore

	maxChatLength int
	storeTimeout  time.Duration

	mu     sync.Mutex
	peers  map[string]Peer
	roomOf map[string]string
}

func NewRouter(registry *Registry, gate *Gate, chats database.ChatStore, maxChatLength int, storeTimeout time.Duration) *Router {
	return &Router{
		registry:      registry,
		gate:          gate,
		chats:         chats,
		maxChatLength: maxChatLength,
		storeTimeout:  storeTimeout,
		peers:         make(map[string]Peer),
		roomOf:        make(map[string]string),
	}
}

// Connect registers an authenticated connection with the router. The
// connection is room-less until a join succeeds.
func (r *Router) Connect(p Peer) {
	r.mu.Lock()
	r.peers[p.ID()] = p
	r.mu.Unlock()
	logger.Debug("Connection %s registered (user %d)", p.ID(), p.UserID())
}

// Disconnect is the single cleanup path for every way a connection ends:
// explicit close, transport error, or keepalive failure. It removes the
// connection from every room it occupied and broadcasts the resulting
// presence to each.
func (r *Router) Disconnect(p Peer) {
	r.mu.Lock()
	delete(r.peers, p.ID())
	delete(r.roomOf, p.ID())
	r.mu.Unlock()

	updates := r.registry.LeaveAll(p.ID())
	for _, update := range updates {
		r.broadcastToRoom(update.RoomKey, models.EventPresenceUpdate, update.Members, "")
	}
	logger.Info("Connection %s disconnected (user %d), left %d room(s)", p.ID(), p.UserID(), len(updates))
}

// Dispatch processes one inbound frame from a connection. Malformed
// envelopes and unknown events are dropped; per-event failures never escape
// to other connections.
func (r *Router) Dispatch(ctx context.Context, p Peer, raw []byte) {
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Debug("Dropping malformed frame from %s: %v", p.ID(), err)
		return
	}

	switch env.Event {
	case models.EventJoinRoom:
		r.handleJoin(ctx, p, env.Data)
	case models.EventLeaveRoom:
		r.handleLeave(p, env.Data)
	case models.EventChatSend:
		r.handleChat(ctx, p, env.Data)
	case models.EventDraw:
		r.handleDraw(p, env.Data)
	case models.EventClear:
		r.handleClear(p, env.Data)
	case models.EventSignal:
		r.handleSignal(p, env.Data)
	default:
		logger.Debug("Dropping unknown event %q from %s", env.Event, p.ID())
	}
}

func (r *Router) handleJoin(ctx context.Context, p Peer, data json.RawMessage) {
	var payload models.JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.AppointmentID == "" {
		return
	}

	displayName := strings.TrimSpace(payload.DisplayName)
	if displayName == "" {
		displayName = p.Username()
	}

	if err := r.gate.CheckEligibility(ctx, p.UserID(), payload.AppointmentID); err != nil {
		// Fail closed: store trouble reads the same as not eligible.
		r.sendEvent(p, models.EventRoomError, models.RoomErrorPayload{
			Message: "not authorized for this appointment",
		})
		logger.Info("Join refused for user %d on %s: %v", p.UserID(), payload.AppointmentID, err)
		return
	}

	// One room per connection: joining a new room leaves the old one.
	if current := r.currentRoom(p.ID()); current != "" && current != payload.AppointmentID {
		remaining := r.registry.Leave(current, p.ID())
		r.setRoom(p.ID(), "")
		r.broadcastToRoom(current, models.EventPresenceUpdate, remaining, "")
	}

	capacity := r.gate.ResolveCapacity(ctx, payload.AppointmentID)
	members, ok := r.registry.Join(payload.AppointmentID, p.ID(), p.UserID(), displayName, capacity)
	if !ok {
		r.sendEvent(p, models.EventRoomFull, struct{}{})
		logger.Info("Room %s full (capacity %d), refused user %d", payload.AppointmentID, capacity, p.UserID())
		return
	}

	r.setRoom(p.ID(), payload.AppointmentID)
	r.broadcastToRoom(payload.AppointmentID, models.EventPresenceUpdate, members, "")
	logger.Info("User %d joined room %s as %q (%d member(s))", p.UserID(), payload.AppointmentID, displayName, len(members))
}

func (r *Router) handleLeave(p Peer, data json.RawMessage) {
	var payload models.LeaveRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if !r.inRoom(p.ID(), payload.AppointmentID) {
		return
	}

	remaining := r.registry.Leave(payload.AppointmentID, p.ID())
	r.setRoom(p.ID(), "")
	r.broadcastToRoom(payload.AppointmentID, models.EventPresenceUpdate, remaining, "")
	logger.Info("User %d left room %s", p.UserID(), payload.AppointmentID)
}

func (r *Router) handleChat(ctx context.Context, p Peer, data json.RawMessage) {
	var payload models.ChatSendPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if !r.inRoom(p.ID(), payload.AppointmentID) {
		return
	}

	content := strings.TrimSpace(payload.Content)
	if content == "" || len([]rune(content)) > r.maxChatLength {
		return
	}

	senderName := strings.TrimSpace(payload.DisplayName)
	if senderName == "" {
		senderName = p.Username()
	}

	storeCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	created, err := r.chats.CreateChatMessage(storeCtx, &models.NewChatMessage{
		AppointmentID: payload.AppointmentID,
		SenderID:      p.UserID(),
		SenderName:    senderName,
		Content:       content,
		Type:          models.ChatTypeText,
	})
	if err != nil {
		// Never fan out state that was not persisted.
		logger.Error("Chat persistence failed for room %s: %v", payload.AppointmentID, err)
		return
	}

	r.broadcastToRoom(payload.AppointmentID, models.EventChatMessage, created, "")
}

func (r *Router) handleDraw(p Peer, data json.RawMessage) {
	var payload models.DrawPayload
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Strokes) == 0 {
		return
	}
	if !r.inRoom(p.ID(), payload.AppointmentID) {
		return
	}

	// The sender already rendered its own strokes locally.
	r.broadcastToRoom(payload.AppointmentID, models.EventDraw, models.DrawBroadcast{Strokes: payload.Strokes}, p.ID())
}

func (r *Router) handleClear(p Peer, data json.RawMessage) {
	var payload models.ClearPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if !r.inRoom(p.ID(), payload.AppointmentID) {
		return
	}

	// A clear is a full state reset, so the sender gets it too.
	r.broadcastToRoom(payload.AppointmentID, models.EventClear, struct{}{}, "")
}

func (r *Router) handleSignal(p Peer, data json.RawMessage) {
	var payload models.SignalPayload
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Signal) == 0 {
		return
	}
	if !r.inRoom(p.ID(), payload.AppointmentID) {
		return
	}

	// The target must currently share the room; a departed peer is dropped
	// silently and the initiator times out naturally.
	if !r.isMember(payload.AppointmentID, payload.TargetConnectionID) {
		return
	}

	r.unicast(payload.TargetConnectionID, models.EventSignal, models.SignalDelivery{
		From:          p.ID(),
		Signal:        payload.Signal,
		AppointmentID: payload.AppointmentID,
	})
}

// broadcastToRoom fans an event out to every current member of a room,
// optionally excluding one connection. Sends are non-blocking; a member
// whose buffer is full misses the frame rather than stalling the room.
func (r *Router) broadcastToRoom(roomKey, event string, payload interface{}, exceptConnID string) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		logger.Error("Error marshaling %s broadcast: %v", event, err)
		return
	}

	for _, member := range r.registry.Members(roomKey) {
		if member.ConnectionID == exceptConnID {
			continue
		}
		if p := r.peer(member.ConnectionID); p != nil {
			if !p.Send(data) {
				logger.Warn("Dropped %s frame for slow connection %s in room %s", event, member.ConnectionID, roomKey)
			}
		}
	}
}

func (r *Router) unicast(connID, event string, payload interface{}) {
	p := r.peer(connID)
	if p == nil {
		return
	}

	data, err := marshalEnvelope(event, payload)
	if err != nil {
		logger.Error("Error marshaling %s unicast: %v", event, err)
		return
	}
	p.Send(data)
}

func (r *Router) sendEvent(p Peer, event string, payload interface{}) {
	data, err := marshalEnvelope(event, payload)
	if err != nil {
		logger.Error("Error marshaling %s event: %v", event, err)
		return
	}
	p.Send(data)
}

func (r *Router) peer(connID string) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[connID]
}

func (r *Router) currentRoom(connID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomOf[connID]
}

func (r *Router) setRoom(connID, roomKey string) {
	r.mu.Lock()
	if roomKey == "" {
		delete(r.roomOf, connID)
	} else {
		r.roomOf[connID] = roomKey
	}
	r.mu.Unlock()
}

// inRoom reports whether a connection is currently a member of the named
// room. Events that fail this check are dropped without a response so a
// stale or hostile client learns nothing about rooms it was removed from.
func (r *Router) inRoom(connID, roomKey string) bool {
	return roomKey != "" && r.currentRoom(connID) == roomKey && r.isMember(roomKey, connID)
}

func (r *Router) isMember(roomKey, connID string) bool {
	for _, member := range r.registry.Members(roomKey) {
		if member.ConnectionID == connID {
			return true
		}
	}
	return false
}

func marshalEnvelope(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.Envelope{Event: event, Data: data})
}
