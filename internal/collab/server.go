package collab

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Realm-101/unbuilt-collab/internal/stats"
)

// CollabServer ties together the live client set, the room registry and
// the idle-room reaper.
type CollabServer struct {
	log           *log.Logger
	stats         stats.StatsProvider
	registry      *Registry
	routers       []Router
	clients       map[*Client]struct{}
	clientsLock   sync.Mutex
	reapInterval  time.Duration
	idleThreshold time.Duration
	stop          chan struct{}
	done          chan struct{}
}

func NewCollabServer(logger *log.Logger, su stats.StatsProvider, reapInterval, idleThreshold time.Duration) (*CollabServer, error) {
	if reapInterval <= 0 {
		return nil, fmt.Errorf("reap interval must be positive")
	}
	if idleThreshold <= 0 {
		return nil, fmt.Errorf("idle threshold must be positive")
	}

	registry := NewRegistry(logger, su)
	cs := &CollabServer{
		log:           logger,
		stats:         su,
		registry:      registry,
		routers:       []Router{NewRoomRouter(registry, logger)},
		clients:       make(map[*Client]struct{}),
		reapInterval:  reapInterval,
		idleThreshold: idleThreshold,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}

	for _, name := range []string{"NumConnections", "NumRooms", "MessagesReceived", "BroadcastsSent", "RoomsReaped"} {
		su.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *CollabServer) Registry() *Registry { return cs.registry }

// Run drives the idle-room reaper until Shutdown.
func (cs *CollabServer) Run() {
	ticker := time.NewTicker(cs.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := cs.registry.ReapIdle(cs.idleThreshold, time.Now()); n > 0 {
				cs.log.Printf("reaper removed %d idle rooms", n)
			}
		case <-cs.stop:
			cs.log.Println("stopping clients")
			cs.clientsLock.Lock()
			for c := range cs.clients {
				c.stopClient()
			}
			cs.clientsLock.Unlock()

			close(cs.done)
			return
		}
	}
}

func (cs *CollabServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr("NumConnections")
	cs.log.Printf("registered connection for user %q", c.user.Username)
}

func (cs *CollabServer) DeregisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	cs.stats.Decr("NumConnections")
	cs.log.Printf("removed connection for user %q", c.user.Username)
}

func (cs *CollabServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")
	close(cs.stop)

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
