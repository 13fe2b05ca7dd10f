package identity

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"masgo.app/masgo/internal/api"
	"masgo.app/masgo/internal/settings"
)

// PlayerIDPrefix marks builtin player registrations created by this
// app. The directory filter relies on it to spot registrations left
// behind by other installations.
const PlayerIDPrefix = "masgo_"

// PlayerLister is the one server call identity needs.
type PlayerLister interface {
	GetPlayers(ctx context.Context) ([]api.Player, error)
}

// Manager produces and persists the stable per-install player
// identifier, and can adopt an orphaned server-side registration
// instead of minting a fresh one.
type Manager struct {
	Store     *settings.Store
	Players   PlayerLister
	Logger    zerolog.Logger
	LogOutput io.Writer

	initLogOnce sync.Once
	mu          sync.Mutex
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set.
func (m *Manager) Log() *zerolog.Logger {
	if m.LogOutput != nil {
		m.initLogOnce.Do(func() {
			m.Logger = zerolog.New(m.LogOutput).With().Timestamp().Logger()
		})
	}
	return &m.Logger
}

// GetOrCreateDevicePlayerID returns the persisted identifier, minting
// and persisting one first when none exists. Idempotent across calls
// and restarts. A persistence failure is fatal to the caller since
// registration cannot proceed without a stable id.
func (m *Manager) GetOrCreateDevicePlayerID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id := m.Store.BuiltinPlayerID(); id != "" {
		return id, nil
	}

	id := PlayerIDPrefix + uuid.NewString()
	if err := m.Store.SetBuiltinPlayerID(id); err != nil {
		return "", fmt.Errorf("GetOrCreateDevicePlayerID persist error: %w", err)
	}

	m.Log().Info().Str("Method", "GetOrCreateDevicePlayerID").Str("PlayerID", id).Msg("generated new player identity")
	return id, nil
}

// IsFreshInstallation reports whether no identifier has ever been
// persisted on this device.
func (m *Manager) IsFreshInstallation() bool {
	return m.Store.BuiltinPlayerID() == ""
}

// FindAdoptableGhostPlayer looks for an existing registration that a
// previous installation owned by the same user left behind: our id
// prefix, the owner's name in the display name, and no live client
// backing it. Returns the id, or "" when nothing qualifies.
func (m *Manager) FindAdoptableGhostPlayer(ctx context.Context, ownerName string) (string, error) {
	if ownerName == "" {
		return "", nil
	}

	players, err := m.Players.GetPlayers(ctx)
	if err != nil {
		return "", fmt.Errorf("FindAdoptableGhostPlayer list error: %w", err)
	}

	for _, p := range players {
		if !strings.HasPrefix(p.PlayerID, PlayerIDPrefix) {
			continue
		}
		if p.Available {
			// Backed by a live client, not ours to take.
			continue
		}
		if !strings.Contains(strings.ToLower(p.DisplayName), strings.ToLower(ownerName)) {
			continue
		}

		m.Log().Info().Str("Method", "FindAdoptableGhostPlayer").Str("PlayerID", p.PlayerID).Str("Name", p.DisplayName).Msg("found adoptable registration")
		return p.PlayerID, nil
	}

	return "", nil
}

// AdoptPlayerID overwrites the persisted identifier with an adopted one.
func (m *Manager) AdoptPlayerID(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.Store.SetBuiltinPlayerID(id); err != nil {
		return fmt.Errorf("AdoptPlayerID persist error: %w", err)
	}
	return nil
}

// Establish resolves the identity to use for this run: a persisted id
// when present, otherwise a ghost adoption attempt, otherwise a fresh
// id. Adoption failures are non-fatal and fall through to generation.
func (m *Manager) Establish(ctx context.Context, ownerName string) (string, error) {
	if !m.IsFreshInstallation() {
		return m.GetOrCreateDevicePlayerID()
	}

	ghostID, err := m.FindAdoptableGhostPlayer(ctx, ownerName)
	if err != nil {
		m.Log().Warn().Str("Method", "Establish").Err(err).Msg("ghost lookup failed, generating fresh id")
	} else if ghostID != "" {
		if err := m.AdoptPlayerID(ghostID); err == nil {
			return ghostID, nil
		}
		m.Log().Warn().Str("Method", "Establish").Str("PlayerID", ghostID).Msg("adoption failed, generating fresh id")
	}

	return m.GetOrCreateDevicePlayerID()
}
