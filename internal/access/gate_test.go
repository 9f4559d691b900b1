package access

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franckalain/nutritrack/internal/models"
)

func countTrue(g models.AccessGuards) int {
	n := 0
	for _, b := range []bool{g.CanAccessTabs, g.CanAccessOnboarding, g.CanAccessVerifyEmail, g.ShouldShowSignin} {
		if b {
			n++
		}
	}
	return n
}

func TestComputeGuardsAllCombinations(t *testing.T) {
	for _, authed := range []bool{false, true} {
		for _, verified := range []bool{false, true} {
			for _, named := range []bool{false, true} {
				s := models.AuthState{IsAuthenticated: authed, IsEmailVerified: verified, HasDisplayName: named}
				t.Run(fmt.Sprintf("%v/%v/%v", authed, verified, named), func(t *testing.T) {
					g := ComputeGuards(s)
					assert.Equal(t, 1, countTrue(g))

					assert.Equal(t, !authed, g.ShouldShowSignin)
					assert.Equal(t, authed && !verified, g.CanAccessVerifyEmail)
					assert.Equal(t, authed && verified && !named, g.CanAccessOnboarding)
					assert.Equal(t, authed && verified && named, g.CanAccessTabs)
				})
			}
		}
	}
}

func TestComputeGuardsPriority(t *testing.T) {
	tests := []struct {
		name  string
		state models.AuthState
		want  models.ScreenGroup
	}{
		{"signed out ignores other flags", models.AuthState{IsEmailVerified: true, HasDisplayName: true}, models.ScreenSignin},
		{"verification beats complete profile", models.AuthState{IsAuthenticated: true, HasDisplayName: true}, models.ScreenVerifyEmail},
		{"missing display name", models.AuthState{IsAuthenticated: true, IsEmailVerified: true}, models.ScreenOnboarding},
		{"complete", models.AuthState{IsAuthenticated: true, IsEmailVerified: true, HasDisplayName: true}, models.ScreenTabs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeGuards(tt.state).Screen())
		})
	}
}

func TestGateLoadingUntilFirstUpdate(t *testing.T) {
	g := NewGate()

	guards, ok := g.Guards()
	assert.False(t, ok)
	assert.Zero(t, countTrue(guards))
	assert.True(t, g.Loading())

	screen, ok := g.Screen()
	assert.False(t, ok)
	assert.Empty(t, screen)

	g.Update(models.AuthState{IsAuthenticated: true})
	screen, ok = g.Screen()
	require.True(t, ok)
	assert.Equal(t, models.ScreenVerifyEmail, screen)
}

func TestGateLogoutResetsToSignin(t *testing.T) {
	g := NewGate()
	g.Update(models.AuthState{IsAuthenticated: true, IsEmailVerified: true, HasDisplayName: true})

	var seen []models.AccessGuards
	unsubscribe := g.Subscribe(func(ag models.AccessGuards) { seen = append(seen, ag) })
	defer unsubscribe()

	g.Logout()

	guards, ok := g.Guards()
	require.True(t, ok)
	assert.Equal(t, models.AccessGuards{ShouldShowSignin: true}, guards)
	state, _ := g.State()
	assert.Equal(t, models.AuthState{}, state)
	require.Len(t, seen, 1)
	assert.Equal(t, guards, seen[0])
}

func TestGateSubscribersSeeConsistentProjections(t *testing.T) {
	g := NewGate()

	var mu sync.Mutex
	var bad int
	unsubscribe := g.Subscribe(func(ag models.AccessGuards) {
		if countTrue(ag) != 1 {
			mu.Lock()
			bad++
			mu.Unlock()
		}
	})

	states := []models.AuthState{
		{},
		{IsAuthenticated: true},
		{IsAuthenticated: true, IsEmailVerified: true},
		{IsAuthenticated: true, IsEmailVerified: true, HasDisplayName: true},
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(s models.AuthState) {
			defer wg.Done()
			g.Update(s)
			guards, ok := g.Guards()
			if !ok || countTrue(guards) != 1 {
				mu.Lock()
				bad++
				mu.Unlock()
			}
		}(states[i%len(states)])
	}
	wg.Wait()
	unsubscribe()

	assert.Zero(t, bad)
}

func TestGateUnsubscribe(t *testing.T) {
	g := NewGate()
	calls := 0
	unsubscribe := g.Subscribe(func(models.AccessGuards) { calls++ })

	g.Update(models.AuthState{})
	unsubscribe()
	unsubscribe()
	g.Update(models.AuthState{IsAuthenticated: true})

	assert.Equal(t, 1, calls)
}
