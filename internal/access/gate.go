// Package access derives which screen group a user may reach from the
// identity provider's auth flags.
package access

import (
	"sync"

	"github.com/franckalain/nutritrack/internal/models"
)

// ComputeGuards projects an AuthState onto the four mutually exclusive
// guards. Email verification takes priority over profile completeness.
func ComputeGuards(s models.AuthState) models.AccessGuards {
	switch {
	case !s.IsAuthenticated:
		return models.AccessGuards{ShouldShowSignin: true}
	case !s.IsEmailVerified:
		return models.AccessGuards{CanAccessVerifyEmail: true}
	case !s.HasDisplayName:
		return models.AccessGuards{CanAccessOnboarding: true}
	default:
		return models.AccessGuards{CanAccessTabs: true}
	}
}

// Gate holds the current auth projection. It starts out loading: no guard
// is reported until the first Update or Logout.
type Gate struct {
	// notifyMu serializes updates so subscribers see projections in order
	notifyMu sync.Mutex

	mu     sync.RWMutex
	loaded bool
	state  models.AuthState
	guards models.AccessGuards
	nextID int
	subs   map[int]func(models.AccessGuards)
}

func NewGate() *Gate {
	return &Gate{subs: make(map[int]func(models.AccessGuards))}
}

// Update recomputes the guards for s and notifies subscribers.
func (g *Gate) Update(s models.AuthState) {
	g.notifyMu.Lock()
	defer g.notifyMu.Unlock()

	guards := ComputeGuards(s)

	g.mu.Lock()
	g.loaded = true
	g.state = s
	g.guards = guards
	subs := make([]func(models.AccessGuards), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	for _, fn := range subs {
		fn(guards)
	}
}

// Logout moves the gate to the signed-out projection in a single step.
func (g *Gate) Logout() {
	g.Update(models.AuthState{})
}

// Guards returns the current projection. ok is false while loading, in
// which case every guard is false and callers must hold navigation.
func (g *Gate) Guards() (guards models.AccessGuards, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.guards, g.loaded
}

// State returns the last AuthState applied.
func (g *Gate) State() (models.AuthState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state, g.loaded
}

// Screen returns the reachable screen group, or false while loading.
func (g *Gate) Screen() (models.ScreenGroup, bool) {
	guards, ok := g.Guards()
	if !ok {
		return "", false
	}
	return guards.Screen(), true
}

// Loading reports whether the first auth state is still outstanding.
func (g *Gate) Loading() bool {
	_, ok := g.Guards()
	return !ok
}

// Subscribe registers fn for every future projection. The returned func
// removes the subscription.
func (g *Gate) Subscribe(fn func(models.AccessGuards)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}
