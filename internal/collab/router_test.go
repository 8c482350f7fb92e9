package collab

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"collab-app/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id       string
	userID   int
	username string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (p *fakePeer) ID() string       { return p.id }
func (p *fakePeer) UserID() int      { return p.userID }
func (p *fakePeer) Username() string { return p.username }

func (p *fakePeer) Send(payload []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.full {
		return false
	}
	p.frames = append(p.frames, payload)
	return true
}

// events decodes every frame the peer received for one event name.
func (p *fakePeer) events(t *testing.T, event string) []json.RawMessage {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()

	var matches []json.RawMessage
	for _, frame := range p.frames {
		var env models.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Event == event {
			matches = append(matches, env.Data)
		}
	}
	return matches
}

func (p *fakePeer) setFull(full bool) {
	p.mu.Lock()
	p.full = full
	p.mu.Unlock()
}

func (p *fakePeer) frameCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

type fakeChatStore struct {
	mu      sync.Mutex
	nextID  int
	created []*models.ChatMessage
	err     error
	now     time.Time
}

func (f *fakeChatStore) CreateChatMessage(ctx context.Context, msg *models.NewChatMessage) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	created := &models.ChatMessage{
		ID:            f.nextID,
		AppointmentID: msg.AppointmentID,
		SenderID:      msg.SenderID,
		SenderName:    msg.SenderName,
		Content:       msg.Content,
		Type:          msg.Type,
		CreatedAt:     f.now,
	}
	f.created = append(f.created, created)
	return created, nil
}

func (f *fakeChatStore) ListChatMessages(ctx context.Context, appointmentID string, limit int) ([]*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created, nil
}

type routerFixture struct {
	router *Router
	apts   *fakeAppointmentStore
	chats  *fakeChatStore
}

// newRouterFixture builds a router over fake stores. apt-1 is created by
// user 1 with attendees 2 and 3 and capped at 2; apt-2 is created by user 5
// with no attendees.
func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	apts := &fakeAppointmentStore{appointments: map[string]*models.Appointment{
		"apt-1": {ID: "apt-1", CreatorID: 1, AttendeeIDs: []int{2, 3}},
		"apt-2": {ID: "apt-2", CreatorID: 5},
	}}
	caps := &fakeRoomConfigStore{capacities: map[string]int{"apt-1": 2}}
	chats := &fakeChatStore{now: time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)}

	gate := NewGate(apts, caps, 12, time.Second)
	router := NewRouter(NewRegistry(), gate, chats, 2000, time.Second)
	return &routerFixture{router: router, apts: apts, chats: chats}
}

func frame(t *testing.T, event string, payload interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	raw, err := json.Marshal(models.Envelope{Event: event, Data: data})
	require.NoError(t, err)
	return raw
}

func (fx *routerFixture) connect(t *testing.T, id string, userID int, username string) *fakePeer {
	t.Helper()
	p := &fakePeer{id: id, userID: userID, username: username}
	fx.router.Connect(p)
	return p
}

func (fx *routerFixture) join(t *testing.T, p *fakePeer, appointmentID, displayName string) {
	t.Helper()
	fx.router.Dispatch(context.Background(), p, frame(t, models.EventJoinRoom, models.JoinRoomPayload{
		AppointmentID: appointmentID,
		DisplayName:   displayName,
	}))
}

func decodeMembers(t *testing.T, data json.RawMessage) []models.Member {
	t.Helper()
	var members []models.Member
	require.NoError(t, json.Unmarshal(data, &members))
	return members
}

func TestJoinBroadcastsPresenceToWholeRoom(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")

	fx.join(t, c1, "apt-1", "Ana")
	updates := c1.events(t, models.EventPresenceUpdate)
	require.Len(t, updates, 1)
	members := decodeMembers(t, updates[0])
	require.Len(t, members, 1)
	assert.Equal(t, "c1", members[0].ConnectionID)
	assert.Equal(t, 1, members[0].UserID)
	assert.Equal(t, "Ana", members[0].DisplayName)

	fx.join(t, c2, "apt-1", "Ben")

	// Both the joiner and the existing member see the cumulative list.
	for _, p := range []*fakePeer{c1, c2} {
		updates := p.events(t, models.EventPresenceUpdate)
		members := decodeMembers(t, updates[len(updates)-1])
		require.Len(t, members, 2)
		assert.Equal(t, "c1", members[0].ConnectionID)
		assert.Equal(t, "c2", members[1].ConnectionID)
	}
}

func TestJoinRefusedWhenRoomFull(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	c3 := fx.connect(t, "c3", 3, "cem")

	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")
	fx.join(t, c3, "apt-1", "Cem")

	// The refused joiner gets room-full and nothing else.
	assert.Len(t, c3.events(t, models.EventRoomFull), 1)
	assert.Empty(t, c3.events(t, models.EventPresenceUpdate))

	// The room is unchanged and nobody else heard about the attempt.
	members := fx.router.registry.Members("apt-1")
	require.Len(t, members, 2)
	assert.Equal(t, "c1", members[0].ConnectionID)
	assert.Equal(t, "c2", members[1].ConnectionID)
	assert.Len(t, c1.events(t, models.EventPresenceUpdate), 2)
}

func TestJoinRefusedWhenNotEligible(t *testing.T) {
	fx := newRouterFixture(t)
	c4 := fx.connect(t, "c4", 4, "dee")

	fx.join(t, c4, "apt-2", "Dee")

	errs := c4.events(t, models.EventRoomError)
	require.Len(t, errs, 1)
	var payload models.RoomErrorPayload
	require.NoError(t, json.Unmarshal(errs[0], &payload))
	assert.NotEmpty(t, payload.Message)

	assert.Empty(t, fx.router.registry.Members("apt-2"))
	assert.Empty(t, c4.events(t, models.EventPresenceUpdate))
}

func TestJoinRefusedWhenAppointmentMissing(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")

	fx.join(t, c1, "no-such-appointment", "Ana")

	assert.Len(t, c1.events(t, models.EventRoomError), 1)
}

func TestJoinFailsClosedWhenStoreDown(t *testing.T) {
	apts := &fakeAppointmentStore{err: errors.New("connection refused")}
	gate := NewGate(apts, &fakeRoomConfigStore{}, 12, time.Second)
	router := NewRouter(NewRegistry(), gate, &fakeChatStore{}, 2000, time.Second)

	p := &fakePeer{id: "c1", userID: 1, username: "ana"}
	router.Connect(p)
	router.Dispatch(context.Background(), p, frame(t, models.EventJoinRoom, models.JoinRoomPayload{
		AppointmentID: "apt-1", DisplayName: "Ana",
	}))

	assert.Len(t, p.events(t, models.EventRoomError), 1)
	assert.Empty(t, router.registry.Members("apt-1"))
}

func TestChatBroadcastMatchesPersistedRecord(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventChatSend, models.ChatSendPayload{
		AppointmentID: "apt-1", Content: "hello", DisplayName: "Ana",
	}))

	require.Len(t, fx.chats.created, 1)
	persisted := fx.chats.created[0]

	// Everyone, the sender included, receives the canonical record.
	for _, p := range []*fakePeer{c1, c2} {
		msgs := p.events(t, models.EventChatMessage)
		require.Len(t, msgs, 1)

		var got models.ChatMessage
		require.NoError(t, json.Unmarshal(msgs[0], &got))
		assert.Equal(t, persisted.ID, got.ID)
		assert.True(t, persisted.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, "hello", got.Content)
		assert.Equal(t, 1, got.SenderID)
		assert.Equal(t, "Ana", got.SenderName)
		assert.Equal(t, models.ChatTypeText, got.Type)
	}
}

func TestChatDroppedWhenPersistenceFails(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	fx.chats.err = errors.New("connection refused")
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventChatSend, models.ChatSendPayload{
		AppointmentID: "apt-1", Content: "hello",
	}))

	// No partial fan-out of unpersisted state.
	assert.Empty(t, c1.events(t, models.EventChatMessage))
	assert.Empty(t, c2.events(t, models.EventChatMessage))
}

func TestChatContentValidation(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	fx.join(t, c1, "apt-1", "Ana")

	for _, content := range []string{"", "   ", strings.Repeat("a", 2001)} {
		fx.router.Dispatch(context.Background(), c1, frame(t, models.EventChatSend, models.ChatSendPayload{
			AppointmentID: "apt-1", Content: content,
		}))
	}

	assert.Empty(t, fx.chats.created)
	assert.Empty(t, c1.events(t, models.EventChatMessage))
}

func TestDrawExcludesSender(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	strokes := json.RawMessage(`[{"x":1,"y":2},{"x":3,"y":4}]`)
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventDraw, models.DrawPayload{
		AppointmentID: "apt-1", Strokes: strokes,
	}))

	assert.Empty(t, c1.events(t, models.EventDraw), "strokes must not echo to the sender")

	draws := c2.events(t, models.EventDraw)
	require.Len(t, draws, 1)
	var got models.DrawBroadcast
	require.NoError(t, json.Unmarshal(draws[0], &got))
	assert.JSONEq(t, string(strokes), string(got.Strokes))
}

func TestClearIncludesSender(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventClear, models.ClearPayload{
		AppointmentID: "apt-1",
	}))

	assert.Len(t, c1.events(t, models.EventClear), 1)
	assert.Len(t, c2.events(t, models.EventClear), 1)
}

func TestSignalUnicastsToTargetOnly(t *testing.T) {
	fx := newRouterFixture(t)
	// apt-2's creator plus two apt-1 members, to prove room scoping.
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	signal := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventSignal, models.SignalPayload{
		AppointmentID: "apt-1", TargetConnectionID: "c2", Signal: signal,
	}))

	assert.Empty(t, c1.events(t, models.EventSignal))

	deliveries := c2.events(t, models.EventSignal)
	require.Len(t, deliveries, 1)
	var got models.SignalDelivery
	require.NoError(t, json.Unmarshal(deliveries[0], &got))
	assert.Equal(t, "c1", got.From)
	assert.Equal(t, "apt-1", got.AppointmentID)
	assert.JSONEq(t, string(signal), string(got.Signal))
}

func TestSignalToDepartedPeerIsDropped(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	fx.router.Disconnect(c2)
	before := c1.frameCount()

	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventSignal, models.SignalPayload{
		AppointmentID: "apt-1", TargetConnectionID: "c2", Signal: json.RawMessage(`{}`),
	}))

	// Silent drop: no error surfaced to anyone.
	assert.Equal(t, before, c1.frameCount())
}

func TestCrossRoomEventsAreDroppedSilently(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c5 := fx.connect(t, "c5", 5, "eve")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c5, "apt-2", "Eve")

	before := c5.frameCount()

	// c1 is not a member of apt-2; nothing may reach its members.
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventDraw, models.DrawPayload{
		AppointmentID: "apt-2", Strokes: json.RawMessage(`[{"x":1,"y":1}]`),
	}))
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventChatSend, models.ChatSendPayload{
		AppointmentID: "apt-2", Content: "injected",
	}))

	assert.Equal(t, before, c5.frameCount())
	assert.Empty(t, fx.chats.created)
}

func TestDisconnectRemovesFromRoomAndBroadcastsPresence(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	fx.router.Disconnect(c1)

	members := fx.router.registry.Members("apt-1")
	require.Len(t, members, 1)
	assert.Equal(t, "c2", members[0].ConnectionID)

	updates := c2.events(t, models.EventPresenceUpdate)
	last := decodeMembers(t, updates[len(updates)-1])
	require.Len(t, last, 1)
	assert.Equal(t, "c2", last[0].ConnectionID)
}

func TestJoinSwitchesRoomsWithImplicitLeave(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	c5 := fx.connect(t, "c5", 5, "eve")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")
	fx.join(t, c5, "apt-2", "Eve")

	// Make user 1 eligible for apt-2 by inviting them.
	fx.apts.appointments["apt-2"].AttendeeIDs = []int{1}

	fx.join(t, c1, "apt-2", "Ana")

	// apt-1 saw c1 depart.
	members := fx.router.registry.Members("apt-1")
	require.Len(t, members, 1)
	assert.Equal(t, "c2", members[0].ConnectionID)
	updates := c2.events(t, models.EventPresenceUpdate)
	assert.Len(t, decodeMembers(t, updates[len(updates)-1]), 1)

	// apt-2 gained it.
	members = fx.router.registry.Members("apt-2")
	require.Len(t, members, 2)
	assert.Equal(t, "c1", members[1].ConnectionID)
}

func TestExplicitLeaveBroadcastsToRemainder(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventLeaveRoom, models.LeaveRoomPayload{
		AppointmentID: "apt-1",
	}))

	require.Len(t, fx.router.registry.Members("apt-1"), 1)

	updates := c2.events(t, models.EventPresenceUpdate)
	last := decodeMembers(t, updates[len(updates)-1])
	require.Len(t, last, 1)
	assert.Equal(t, "c2", last[0].ConnectionID)

	// A second leave for a room the sender is no longer in is a no-op.
	before := c2.frameCount()
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventLeaveRoom, models.LeaveRoomPayload{
		AppointmentID: "apt-1",
	}))
	assert.Equal(t, before, c2.frameCount())
}

func TestBroadcastSkipsSlowPeer(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	c2 := fx.connect(t, "c2", 2, "ben")
	fx.join(t, c1, "apt-1", "Ana")
	fx.join(t, c2, "apt-1", "Ben")

	c2.setFull(true)
	before := c2.frameCount()

	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventClear, models.ClearPayload{
		AppointmentID: "apt-1",
	}))

	// The stalled peer misses the frame; delivery to the rest continues.
	assert.Equal(t, before, c2.frameCount())
	assert.Len(t, c1.events(t, models.EventClear), 1)

	// Membership is unaffected: once the peer drains, later frames land.
	c2.setFull(false)
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventClear, models.ClearPayload{
		AppointmentID: "apt-1",
	}))
	assert.Len(t, c2.events(t, models.EventClear), 1)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	fx := newRouterFixture(t)
	c1 := fx.connect(t, "c1", 1, "ana")
	fx.join(t, c1, "apt-1", "Ana")
	before := c1.frameCount()

	fx.router.Dispatch(context.Background(), c1, []byte(`not json`))
	fx.router.Dispatch(context.Background(), c1, []byte(`{"event":"no-such-event","data":{}}`))
	fx.router.Dispatch(context.Background(), c1, frame(t, models.EventDraw, map[string]int{"appointmentId": 7}))

	assert.Equal(t, before, c1.frameCount())
}
