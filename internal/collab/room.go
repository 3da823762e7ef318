package collab

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/stats"
	"github.com/Realm-101/unbuilt-collab/internal/types"
)

const defaultUserName = "Anonymous"

// Participant is one connected user's membership record within a room.
// It is owned exclusively by its Room and only mutated under the room lock.
type Participant struct {
	UserId    int
	UserName  string
	Cursor    json.RawMessage
	Selection string

	// client delivers broadcasts; sessionId is the stable transport
	// identity used to find-and-remove the participant on disconnect.
	client    *Client
	sessionId string
}

// Room is the shared-state container for one collaborative context.
// All mutation goes through its operations, which linearize under mu.
type Room struct {
	id string

	mu           sync.Mutex
	participants map[int]*Participant
	sharedState  map[string]any
	lastActivity time.Time
	// removed is set by the reaper; a Join on a removed room fails and
	// the caller re-resolves the room through the registry.
	removed bool

	log   *log.Logger
	stats stats.StatsProvider
}

func NewRoom(id string, logger *log.Logger, su stats.StatsProvider) *Room {
	return &Room{
		id:           id,
		participants: make(map[int]*Participant),
		sharedState:  make(map[string]any),
		lastActivity: Now(),
		log:          logger,
		stats:        su,
	}
}

func (r *Room) Id() string { return r.id }

// Join inserts the user as a participant, or replaces the display name and
// connection on an idempotent re-join. It reports false if the room was
// reaped between resolution and the call.
func (r *Room) Join(c *Client, userName string) bool {
	if userName == "" {
		userName = defaultUserName
	}

	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return false
	}

	userId := c.user.Id
	if p, ok := r.participants[userId]; ok {
		p.UserName = userName
		p.client = c
		p.sessionId = c.sessionId
	} else {
		r.participants[userId] = &Participant{
			UserId:    userId,
			UserName:  userName,
			client:    c,
			sessionId: c.sessionId,
		}
	}
	r.lastActivity = Now()

	// room-state snapshot goes to the joining connection only
	c.queueMessage(&ServerMessage{
		Type:   TypeRoomState,
		RoomId: r.id,
		Data: map[string]any{
			"participants": r.participantViews(),
			"sharedState":  r.copySharedState(),
		},
		Timestamp: Now(),
	})

	r.broadcast(&ServerMessage{
		Type:   TypeUserJoined,
		RoomId: r.id,
		Data: map[string]any{
			"userId":           userId,
			"userName":         userName,
			"participantCount": len(r.participants),
		},
		Timestamp: Now(),
	}, userId)
	r.mu.Unlock()

	return true
}

// Leave removes the participant if present; stray leaves are ignored.
func (r *Room) Leave(userId int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userId]
	if !ok {
		return
	}

	r.removeParticipantLocked(p)
}

// LeaveBySession removes the participant whose connection matches the
// given session id. This is the disconnect-cleanup path; a participant
// replaced by a re-join on a newer connection is left alone.
func (r *Room) LeaveBySession(sessionId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.participants {
		if p.sessionId == sessionId {
			r.removeParticipantLocked(p)
			return true
		}
	}

	return false
}

func (r *Room) removeParticipantLocked(p *Participant) {
	delete(r.participants, p.UserId)
	r.lastActivity = Now()

	r.broadcast(&ServerMessage{
		Type:   TypeUserLeft,
		RoomId: r.id,
		Data: map[string]any{
			"userId":           p.UserId,
			"userName":         p.UserName,
			"participantCount": len(r.participants),
		},
		Timestamp: Now(),
	}, 0)
}

// UpdateCursor stores the user's cursor and relays it to everyone else.
func (r *Room) UpdateCursor(userId int, cursor json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userId]
	if !ok {
		return
	}

	p.Cursor = cursor
	r.lastActivity = Now()

	r.broadcast(&ServerMessage{
		Type:   TypeCursorUpdate,
		RoomId: r.id,
		Data: map[string]any{
			"userId": userId,
			"cursor": cursor,
		},
		Timestamp: Now(),
	}, userId)
}

// UpdateSelection stores the user's selection and relays it to everyone else.
func (r *Room) UpdateSelection(userId int, selection string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userId]
	if !ok {
		return
	}

	p.Selection = selection
	r.lastActivity = Now()

	r.broadcast(&ServerMessage{
		Type:   TypeSelectionUpdate,
		RoomId: r.id,
		Data: map[string]any{
			"userId":    userId,
			"selection": selection,
		},
		Timestamp: Now(),
	}, userId)
}

// ApplyStateUpdate merges changes into the shared state with per-key
// last-write-wins overwrite and relays the raw changes to every
// participant, sender included. The merge happens even if the sender is
// no longer a participant.
func (r *Room) ApplyStateUpdate(userId int, changes map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range changes {
		r.sharedState[k] = v
	}
	r.lastActivity = Now()

	r.broadcast(&ServerMessage{
		Type:   TypeStateChanged,
		RoomId: r.id,
		Data: map[string]any{
			"userId":  userId,
			"changes": changes,
		},
		Timestamp: Now(),
	}, 0)
}

// Chat relays a chat message, tagged with the sender's display name, to
// every participant including the sender.
func (r *Room) Chat(userId int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userId]
	if !ok {
		return
	}

	r.lastActivity = Now()

	r.broadcast(&ServerMessage{
		Type:   TypeChatMessage,
		RoomId: r.id,
		Data: map[string]any{
			"userId":   userId,
			"userName": p.UserName,
			"message":  text,
		},
		Timestamp: Now(),
	}, 0)
}

// Typing relays a typing indicator to everyone else. It deliberately does
// not touch lastActivity, so idle typing pings alone never keep an
// otherwise-empty room alive.
func (r *Room) Typing(userId int, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[userId]; !ok {
		return
	}

	r.broadcast(&ServerMessage{
		Type:   TypeTypingIndicator,
		RoomId: r.id,
		Data: map[string]any{
			"userId":   userId,
			"isTyping": isTyping,
		},
		Timestamp: Now(),
	}, userId)
}

func (r *Room) participantViews() []types.Participant {
	views := make([]types.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		views = append(views, types.Participant{
			UserId:    p.UserId,
			UserName:  p.UserName,
			Cursor:    p.Cursor,
			Selection: p.Selection,
		})
	}
	return views
}

func (r *Room) copySharedState() map[string]any {
	state := make(map[string]any, len(r.sharedState))
	for k, v := range r.sharedState {
		state[k] = v
	}
	return state
}

func (r *Room) ParticipantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

func (r *Room) SharedState() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copySharedState()
}

func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

func (r *Room) Info() types.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.RoomInfo{
		Id:               r.id,
		ParticipantCount: len(r.participants),
		LastActivity:     r.lastActivity,
	}
}
