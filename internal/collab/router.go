package collab

import "log"

// Router is the capability interface for a message-handling feature area.
// A client asks each registered router in order whether it handles a tag;
// the room router below is the first of potentially several.
type Router interface {
	Handles(msgType string) bool
	Handle(c *Client, msg *ClientMessage)
}

// RoomRouter routes the collaboration tags to room operations.
type RoomRouter struct {
	registry *Registry
	log      *log.Logger
}

func NewRoomRouter(registry *Registry, logger *log.Logger) *RoomRouter {
	return &RoomRouter{registry: registry, log: logger}
}

func (rt *RoomRouter) Handles(msgType string) bool {
	switch msgType {
	case TypeJoin, TypeLeave, TypeCursor, TypeSelection, TypeStateUpdate, TypeChat, TypeTyping:
		return true
	}
	return false
}

func (rt *RoomRouter) Handle(c *Client, msg *ClientMessage) {
	switch msg.Type {
	case TypeJoin:
		// Join creates the room lazily. A reaped room reports failure, in
		// which case the registry is consulted again for a fresh instance.
		for {
			room := rt.registry.GetOrCreate(msg.RoomId)
			if room.Join(c, msg.Join.UserName) {
				break
			}
		}
	case TypeLeave:
		if room, ok := rt.registry.Get(msg.RoomId); ok {
			room.Leave(c.user.Id)
		}
	case TypeCursor:
		if room, ok := rt.registry.Get(msg.RoomId); ok {
			room.UpdateCursor(c.user.Id, msg.Cursor.Cursor)
		}
	case TypeSelection:
		if room, ok := rt.registry.Get(msg.RoomId); ok {
			room.UpdateSelection(c.user.Id, *msg.Selection.Selection)
		}
	case TypeStateUpdate:
		if room, ok := rt.registry.Get(msg.RoomId); ok {
			room.ApplyStateUpdate(c.user.Id, msg.StateUpdate.Changes)
		}
	case TypeChat:
		if room, ok := rt.registry.Get(msg.RoomId); ok {
			room.Chat(c.user.Id, msg.Chat.Message)
		}
	case TypeTyping:
		if room, ok := rt.registry.Get(msg.RoomId); ok {
			room.Typing(c.user.Id, *msg.Typing.IsTyping)
		}
	}
}
