package collab

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Client-originated message tags.
const (
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypeCursor      = "cursor"
	TypeSelection   = "selection"
	TypeStateUpdate = "state-update"
	TypeChat        = "chat"
	TypeTyping      = "typing"
)

// Server-originated message tags.
const (
	TypeConnected       = "connected"
	TypeRoomState       = "room-state"
	TypeUserJoined      = "user-joined"
	TypeUserLeft        = "user-left"
	TypeCursorUpdate    = "cursor-update"
	TypeSelectionUpdate = "selection-update"
	TypeStateChanged    = "state-changed"
	TypeChatMessage     = "chat-message"
	TypeTypingIndicator = "typing-indicator"
	TypeError           = "error"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownType      = errors.New("unknown message type")
	ErrMissingField     = errors.New("missing required field")
)

// ClientMessage is an inbound frame. Exactly one of the payload pointers
// is populated by DecodeClientMessage according to Type.
type ClientMessage struct {
	Type   string          `json:"type"`
	RoomId string          `json:"roomId"`
	Data   json.RawMessage `json:"data,omitempty"`

	Join        *JoinPayload        `json:"-"`
	Cursor      *CursorPayload      `json:"-"`
	Selection   *SelectionPayload   `json:"-"`
	StateUpdate *StateUpdatePayload `json:"-"`
	Chat        *ChatPayload        `json:"-"`
	Typing      *TypingPayload      `json:"-"`
}

type JoinPayload struct {
	UserName string `json:"userName"`
}

type CursorPayload struct {
	Cursor json.RawMessage `json:"cursor"`
}

type SelectionPayload struct {
	Selection *string `json:"selection"`
}

type StateUpdatePayload struct {
	Changes map[string]any `json:"changes"`
}

type ChatPayload struct {
	Message string `json:"message"`
}

type TypingPayload struct {
	IsTyping *bool `json:"isTyping"`
}

// DecodeClientMessage parses and validates a raw frame against the closed
// set of message shapes. A decode failure never terminates the connection;
// the caller answers with a single error reply and keeps reading.
func DecodeClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch msg.Type {
	case TypeJoin, TypeLeave, TypeCursor, TypeSelection, TypeStateUpdate, TypeChat, TypeTyping:
	case "":
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}

	if msg.RoomId == "" {
		return nil, fmt.Errorf("%w: roomId", ErrMissingField)
	}

	switch msg.Type {
	case TypeJoin:
		msg.Join = &JoinPayload{}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, msg.Join); err != nil {
				return nil, fmt.Errorf("%w: join data: %v", ErrMalformedPayload, err)
			}
		}
	case TypeLeave:
	case TypeCursor:
		msg.Cursor = &CursorPayload{}
		if err := unmarshalData(msg.Data, msg.Cursor); err != nil {
			return nil, err
		}
		if len(msg.Cursor.Cursor) == 0 {
			return nil, fmt.Errorf("%w: cursor", ErrMissingField)
		}
	case TypeSelection:
		msg.Selection = &SelectionPayload{}
		if err := unmarshalData(msg.Data, msg.Selection); err != nil {
			return nil, err
		}
		if msg.Selection.Selection == nil {
			return nil, fmt.Errorf("%w: selection", ErrMissingField)
		}
	case TypeStateUpdate:
		msg.StateUpdate = &StateUpdatePayload{}
		if err := unmarshalData(msg.Data, msg.StateUpdate); err != nil {
			return nil, err
		}
		if msg.StateUpdate.Changes == nil {
			return nil, fmt.Errorf("%w: changes", ErrMissingField)
		}
	case TypeChat:
		msg.Chat = &ChatPayload{}
		if err := unmarshalData(msg.Data, msg.Chat); err != nil {
			return nil, err
		}
		if msg.Chat.Message == "" {
			return nil, fmt.Errorf("%w: message", ErrMissingField)
		}
	case TypeTyping:
		msg.Typing = &TypingPayload{}
		if err := unmarshalData(msg.Data, msg.Typing); err != nil {
			return nil, err
		}
		if msg.Typing.IsTyping == nil {
			return nil, fmt.Errorf("%w: isTyping", ErrMissingField)
		}
	}

	return &msg, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: data", ErrMissingField)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedPayload, err)
	}
	return nil
}

// ServerMessage is an outbound frame. It mirrors the inbound envelope
// shape and adds a server timestamp.
type ServerMessage struct {
	Type      string         `json:"type"`
	RoomId    string         `json:"roomId,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func ConnectedMessage(userId int) *ServerMessage {
	return &ServerMessage{
		Type:      TypeConnected,
		Data:      map[string]any{"userId": userId},
		Timestamp: Now(),
	}
}

func ErrInvalidMessage() *ServerMessage {
	return &ServerMessage{
		Type:      TypeError,
		Data:      map[string]any{"error": "Invalid message format"},
		Timestamp: Now(),
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
