package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/collab"
	"github.com/Realm-101/unbuilt-collab/internal/types"
	"github.com/gorilla/websocket"
)

const closeWriteWait = 10 * time.Second

func (s *CollabApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// getRooms serves the read-only diagnostics view of the registry: every
// live room with its participant count, or a single room when id is given.
func (s *CollabApp) getRooms(w http.ResponseWriter, r *http.Request) {
	if _, ok := UserId(r.Context()); !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if id := r.URL.Query().Get("id"); id != "" {
		room, ok := s.cs.Registry().Get(id)
		if !ok {
			errResp := NewNotFoundError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, room.Info())
		return
	}

	rooms := s.cs.Registry().Snapshot()
	infos := make([]types.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, room.Info())
	}

	s.writeJson(w, http.StatusOK, infos)
}

// serveWs upgrades the connection, authenticates the upgrade request
// through the authenticator chain exactly once, and hands the socket to a
// collab client. Unauthorized sockets are closed with a policy-violation
// code before any frame is read.
func (s *CollabApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	user, err := s.authenticator.Authenticate(r)
	if err != nil {
		s.log.Println("websocket authentication failed:", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(closeWriteWait))
		conn.Close()
		return
	}

	sid, err := s.generateSessionId()
	if err != nil {
		s.log.Print("generateSessionId:", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "internal error"),
			time.Now().Add(closeWriteWait))
		conn.Close()
		return
	}

	client := collab.NewClient(user, sid, conn, s.cs, s.log)
	s.cs.RegisterClient(client)
	client.Run()
}
