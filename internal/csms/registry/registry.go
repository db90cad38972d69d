// Package registry implements the chargePointId -> actor directory:
// insert on WebSocket accept, remove on close, replace on duplicate
// accept for the same id.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/ocpp-csms/csms/internal/csms/station"
	"github.com/ocpp-csms/csms/internal/logger"
	"github.com/ocpp-csms/csms/internal/storage"
)

// MirrorTTL is how long a registry entry survives in the optional
// owner mirror before it expires on its own, bounding staleness if a
// process dies without closing cleanly.
const MirrorTTL = 2 * time.Minute

// Registry holds every actor currently owned by this process.
type Registry struct {
	mu     sync.RWMutex
	actors map[string]*station.Actor

	mirror storage.ConnectionStorage // optional, nil disables mirroring
	podID  string
	log    *logger.Logger
}

// New creates an empty Registry. mirror may be nil.
func New(podID string, mirror storage.ConnectionStorage, log *logger.Logger) *Registry {
	return &Registry{
		actors: make(map[string]*station.Actor),
		mirror: mirror,
		podID:  podID,
		log:    log,
	}
}

// Put inserts actor under id, returning the previous actor at that id
// if one existed (the caller must Close it, to implement replace-on-
// duplicate-accept). The registry never closes an evicted actor
// itself, since closing crosses into the actor's own dispatch context.
func (r *Registry) Put(id string, actor *station.Actor) *station.Actor {
	r.mu.Lock()
	previous := r.actors[id]
	r.actors[id] = actor
	r.mu.Unlock()

	r.mirrorSet(id)
	return previous
}

// Remove deletes id from the registry only if it still maps to actor,
// so a stale close (after a replacing Put already ran) cannot evict
// the newer connection.
func (r *Registry) Remove(id string, actor *station.Actor) {
	r.mu.Lock()
	current, ok := r.actors[id]
	removed := ok && current == actor
	if removed {
		delete(r.actors, id)
	}
	r.mu.Unlock()

	if removed {
		r.mirrorDelete(id)
	}
}

// Get returns the actor registered for id, if any.
func (r *Registry) Get(id string) (*station.Actor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[id]
	return a, ok
}

// Ids returns a snapshot of every registered charge point id.
func (r *Registry) Ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actors))
	for id := range r.actors {
		out = append(out, id)
	}
	return out
}

// Len reports the number of actors currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actors)
}

// mirrorSet and mirrorDelete are best-effort, non-blocking: a failure
// to reach the mirror store never fails the accept/close path it
// shadows.
func (r *Registry) mirrorSet(id string) {
	if r.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.mirror.SetConnection(ctx, id, r.podID, MirrorTTL); err != nil {
			r.log.Warnf("registry mirror: set %s -> %s failed: %v", id, r.podID, err)
		}
	}()
}

func (r *Registry) mirrorDelete(id string) {
	if r.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.mirror.DeleteConnection(ctx, id); err != nil {
			r.log.Warnf("registry mirror: delete %s failed: %v", id, err)
		}
	}()
}
