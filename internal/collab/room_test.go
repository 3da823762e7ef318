package collab

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/testutil"
	"github.com/Realm-101/unbuilt-collab/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, userId int, username string) *Client {
	return &Client{
		user:      types.User{Id: userId, Username: username},
		sessionId: fmt.Sprintf("sess-%d", userId),
		send:      make(chan []byte, 16),
		stop:      make(chan struct{}),
		log:       testutil.TestLogger(t),
	}
}

// nextMessage pops one queued frame from the client's send buffer, or nil
// if nothing was delivered.
func nextMessage(t *testing.T, c *Client) *ServerMessage {
	t.Helper()
	select {
	case raw := <-c.send:
		var msg ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg), "failed to unmarshal queued frame")
		return &msg
	default:
		return nil
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func TestRoomJoinLeave(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")

	assert.Equal(t, 0, room.ParticipantCount())

	require.True(t, room.Join(alice, "Alice"))
	assert.Equal(t, 1, room.ParticipantCount())

	// joiner gets the room-state snapshot, nothing else
	msg := nextMessage(t, alice)
	require.NotNil(t, msg, "expected room-state for the joiner")
	assert.Equal(t, TypeRoomState, msg.Type)
	assert.Equal(t, "r1", msg.RoomId)
	assert.Nil(t, nextMessage(t, alice), "joiner must not receive their own user-joined")

	room.Leave(alice.user.Id)
	assert.Equal(t, 0, room.ParticipantCount(), "participant count returns to its pre-join value")
}

func TestRoomJoin_notifiesOthers(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	drain(alice)

	require.True(t, room.Join(bob, "Bob"))

	// Bob gets a snapshot listing Alice
	msg := nextMessage(t, bob)
	require.NotNil(t, msg)
	assert.Equal(t, TypeRoomState, msg.Type)
	participants, ok := msg.Data["participants"].([]any)
	require.True(t, ok, "expected participants list in room-state")
	assert.Len(t, participants, 2)

	// Alice gets user-joined with the updated count
	msg = nextMessage(t, alice)
	require.NotNil(t, msg, "expected user-joined notification for Alice")
	assert.Equal(t, TypeUserJoined, msg.Type)
	assert.Equal(t, float64(2), msg.Data["userId"])
	assert.Equal(t, "Bob", msg.Data["userName"])
	assert.Equal(t, float64(2), msg.Data["participantCount"])
}

func TestRoomJoin_idempotentRejoin(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(alice, "Alice Cooper"))

	assert.Equal(t, 1, room.ParticipantCount(), "re-join must not duplicate the participant")

	room.mu.Lock()
	p := room.participants[1]
	room.mu.Unlock()
	assert.Equal(t, "Alice Cooper", p.UserName, "re-join updates the display name")
}

func TestRoomJoin_defaultUserName(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")

	require.True(t, room.Join(alice, ""))

	room.mu.Lock()
	p := room.participants[1]
	room.mu.Unlock()
	assert.Equal(t, defaultUserName, p.UserName)
}

func TestRoomLeave_notifiesRemaining(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	room.Leave(bob.user.Id)

	msg := nextMessage(t, alice)
	require.NotNil(t, msg)
	assert.Equal(t, TypeUserLeft, msg.Type)
	assert.Equal(t, float64(2), msg.Data["userId"])
	assert.Equal(t, float64(1), msg.Data["participantCount"])

	// stray leave for an unknown user is a silent no-op
	room.Leave(42)
	assert.Nil(t, nextMessage(t, alice))
}

func TestRoomUpdateCursor(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	room.UpdateCursor(1, json.RawMessage(`{"line":3,"col":7}`))

	msg := nextMessage(t, bob)
	require.NotNil(t, msg, "expected cursor-update for Bob")
	assert.Equal(t, TypeCursorUpdate, msg.Type)
	assert.Equal(t, float64(1), msg.Data["userId"])
	assert.Equal(t, map[string]any{"line": float64(3), "col": float64(7)}, msg.Data["cursor"])

	assert.Nil(t, nextMessage(t, alice), "sender must be excluded from cursor-update")
}

func TestRoomUpdateSelection(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	room.UpdateSelection(2, "3:0-4:10")

	msg := nextMessage(t, alice)
	require.NotNil(t, msg)
	assert.Equal(t, TypeSelectionUpdate, msg.Type)
	assert.Equal(t, "3:0-4:10", msg.Data["selection"])
	assert.Nil(t, nextMessage(t, bob), "sender must be excluded from selection-update")
}

func TestRoomApplyStateUpdate_lastWriteWins(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")

	require.True(t, room.Join(alice, "Alice"))
	drain(alice)

	room.ApplyStateUpdate(1, map[string]any{"a": 1})
	room.ApplyStateUpdate(1, map[string]any{"b": 2})
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, room.SharedState())

	room.ApplyStateUpdate(1, map[string]any{"a": 3})
	assert.Equal(t, map[string]any{"a": 3, "b": 2}, room.SharedState(), "per-key overwrite, no nested merge")

	// sender is included in state-changed broadcasts
	msg := nextMessage(t, alice)
	require.NotNil(t, msg)
	assert.Equal(t, TypeStateChanged, msg.Type)
	assert.False(t, msg.Timestamp.IsZero(), "state-changed carries a server timestamp")
	changes, ok := msg.Data["changes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), changes["a"], "broadcast carries the raw changes, not the merged state")
}

func TestRoomApplyStateUpdate_concurrent(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	require.True(t, room.Join(alice, "Alice"))

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			room.ApplyStateUpdate(1, map[string]any{fmt.Sprintf("k%d", i): i})
		}(i)
	}
	wg.Wait()

	state := room.SharedState()
	assert.Len(t, state, n, "simultaneous merges must not lose a delta")
	for i := 0; i < n; i++ {
		assert.Equal(t, i, state[fmt.Sprintf("k%d", i)])
	}
}

func TestRoomOps_concurrent(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)

	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			userId := i + 1
			c := newTestClient(t, userId, fmt.Sprintf("user%d", userId))
			if !room.Join(c, c.user.Username) {
				t.Errorf("join failed for user %d", userId)
				return
			}
			room.UpdateCursor(userId, json.RawMessage(`{"line":1}`))
			room.ApplyStateUpdate(userId, map[string]any{fmt.Sprintf("k%d", userId): userId})
			room.Typing(userId, true)
			room.Leave(userId)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, room.ParticipantCount(), "every joiner must have left")
	assert.Len(t, room.SharedState(), n, "interleaved operations must not lose state deltas")
}

func TestRoomApplyStateUpdate_nonParticipant(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")

	require.True(t, room.Join(alice, "Alice"))
	drain(alice)

	// merges even when the sender is not a participant
	room.ApplyStateUpdate(99, map[string]any{"k": "v"})
	assert.Equal(t, map[string]any{"k": "v"}, room.SharedState())

	msg := nextMessage(t, alice)
	require.NotNil(t, msg, "state-changed still goes to all participants")
	assert.Equal(t, TypeStateChanged, msg.Type)
}

func TestRoomChat(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	room.Chat(1, "hello")

	for _, c := range []*Client{alice, bob} {
		msg := nextMessage(t, c)
		require.NotNil(t, msg, "chat goes to all participants including the sender")
		assert.Equal(t, TypeChatMessage, msg.Type)
		assert.Equal(t, "Alice", msg.Data["userName"])
		assert.Equal(t, "hello", msg.Data["message"])
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestRoomOps_unknownUserNoBroadcast(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")

	require.True(t, room.Join(alice, "Alice"))
	drain(alice)

	room.UpdateCursor(99, json.RawMessage(`{"line":1}`))
	room.UpdateSelection(99, "0:0-0:1")
	room.Chat(99, "ghost")
	room.Typing(99, true)

	assert.Nil(t, nextMessage(t, alice), "events from non-participants must produce no broadcast")
}

func TestRoomTyping(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	before := room.LastActivity()
	time.Sleep(5 * time.Millisecond)
	room.Typing(1, true)

	msg := nextMessage(t, bob)
	require.NotNil(t, msg)
	assert.Equal(t, TypeTypingIndicator, msg.Type)
	assert.Equal(t, true, msg.Data["isTyping"])
	assert.Nil(t, nextMessage(t, alice), "sender must be excluded from typing-indicator")

	assert.Equal(t, before, room.LastActivity(), "typing must not count as room activity")
}

func TestRoomLeaveBySession(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	assert.True(t, room.LeaveBySession(bob.sessionId))
	assert.Equal(t, 1, room.ParticipantCount())

	msg := nextMessage(t, alice)
	require.NotNil(t, msg)
	assert.Equal(t, TypeUserLeft, msg.Type)

	assert.False(t, room.LeaveBySession("no-such-session"))
}

func TestRoomLeaveBySession_staleConnection(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	old := newTestClient(t, 1, "alice")
	old.sessionId = "sess-old"

	require.True(t, room.Join(old, "Alice"))

	// the user reconnects; the participant entry now points at the new session
	fresh := newTestClient(t, 1, "alice")
	fresh.sessionId = "sess-new"
	require.True(t, room.Join(fresh, "Alice"))

	// the old connection's cleanup must not evict the fresh membership
	assert.False(t, room.LeaveBySession("sess-old"))
	assert.Equal(t, 1, room.ParticipantCount())
}

func TestRoomBroadcast_skipsClosedConnections(t *testing.T) {
	room := NewRoom("r1", testutil.TestLogger(t), nil)
	alice := newTestClient(t, 1, "alice")
	bob := newTestClient(t, 2, "bob")

	require.True(t, room.Join(alice, "Alice"))
	require.True(t, room.Join(bob, "Bob"))
	drain(alice)
	drain(bob)

	bob.stopClient()

	room.Chat(1, "still here?")

	assert.NotNil(t, nextMessage(t, alice), "delivery to live participants continues")
	assert.Nil(t, nextMessage(t, bob), "closed connections are skipped")
}
