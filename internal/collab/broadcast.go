package collab

import "encoding/json"

// broadcast serializes msg once and delivers it to every participant whose
// connection is still open, skipping excludeUserId when non-zero. A failed
// or closed recipient never aborts delivery to the rest. Callers must hold
// r.mu.
func (r *Room) broadcast(msg *ServerMessage, excludeUserId int) {
	raw, err := json.Marshal(msg)
	if err != nil {
		r.log.Printf("room %q: marshal %q broadcast: %v", r.id, msg.Type, err)
		return
	}

	for _, p := range r.participants {
		if excludeUserId != 0 && p.UserId == excludeUserId {
			continue
		}

		if p.client == nil || !p.client.queueRaw(raw) {
			r.log.Printf("room %q: skipping closed or slow connection for user %d", r.id, p.UserId)
		}
	}

	if r.stats != nil {
		r.stats.Incr("BroadcastsSent")
	}
}
