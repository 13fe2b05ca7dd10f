package directory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"masgo.app/masgo/internal/api"
	"masgo.app/masgo/internal/identity"
)

const (
	// cacheTTL bounds how stale a directory fetch may be before a
	// non-forced refresh goes back to the server.
	cacheTTL = 5 * time.Minute

	// ghostNameMarker tags stale registrations renamed by older server
	// releases during cleanup.
	ghostNameMarker = "(ghost)"

	// BuiltinProviderTag is the provider the server assigns to builtin
	// (app-registered) players, including the web UI's own player.
	BuiltinProviderTag = "builtin_player"

	// webPlayerIDPrefix marks the server web UI's throwaway player
	// registrations.
	webPlayerIDPrefix = "ma_"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// PlayerLister is the server call the cache wraps.
type PlayerLister interface {
	GetPlayers(ctx context.Context) ([]api.Player, error)
}

// Cache keeps a filtered, sorted snapshot of the server's player
// directory for a bounded time window. Single writer; many readers.
type Cache struct {
	Client      PlayerLister
	OwnPlayerID string
	Logger      zerolog.Logger
	LogOutput   io.Writer

	initLogOnce sync.Once

	mu        sync.Mutex
	players   []api.Player
	fetchedAt time.Time
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set.
func (c *Cache) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

// Refresh returns the player directory, hitting the server only when
// the cache is older than its TTL or force is set. On fetch errors the
// last-known snapshot is returned alongside the error so callers can
// keep rendering stale data.
func (c *Cache) Refresh(ctx context.Context, force bool) ([]api.Player, error) {
	c.mu.Lock()
	if !force && c.players != nil && timeNow().Sub(c.fetchedAt) < cacheTTL {
		cached := c.players
		c.mu.Unlock()
		return cached, nil
	}
	cached := c.players
	c.mu.Unlock()

	fetched, err := c.Client.GetPlayers(ctx)
	if err != nil {
		c.Log().Warn().Str("Method", "Refresh").Err(err).Msg("directory fetch failed, serving stale cache")
		return cached, fmt.Errorf("Refresh fetch error: %w", err)
	}

	filtered := filterPlayers(fetched, c.OwnPlayerID)
	sort.Slice(filtered, func(i, j int) bool {
		return strings.ToLower(filtered[i].DisplayName) < strings.ToLower(filtered[j].DisplayName)
	})

	c.mu.Lock()
	c.players = filtered
	c.fetchedAt = timeNow()
	c.mu.Unlock()

	return filtered, nil
}

// Players returns the current snapshot without touching the network.
func (c *Cache) Players() []api.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.players
}

// Invalidate forces the next Refresh to hit the server. Called after
// reconnects, when the cached view is known to be from a dead session.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

// Find returns the cached player with the given id, or nil.
func (c *Cache) Find(playerID string) *api.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.players {
		if c.players[i].PlayerID == playerID {
			p := c.players[i]
			return &p
		}
	}
	return nil
}

// filterPlayers removes ghost, duplicate and legacy registrations that
// accumulate server-side over time. Rules run in order; later rules
// assume earlier ones already ran.
func filterPlayers(players []api.Player, ownID string) []api.Player {
	out := make([]api.Player, 0, len(players))

	for _, p := range players {
		// 1. Stale registrations renamed by server-side cleanup.
		if strings.Contains(strings.ToLower(p.DisplayName), ghostNameMarker) {
			continue
		}

		// 2. The server web UI's own player. Both signals required:
		// unrelated players may share the provider, and unrelated ids
		// may share the prefix.
		if p.Provider == BuiltinProviderTag && strings.HasPrefix(p.PlayerID, webPlayerIDPrefix) {
			continue
		}

		// 3. Orphaned registrations from legacy app versions that used
		// the default name but never carried the builtin provider tag.
		if strings.EqualFold(p.DisplayName, "this device") && p.Provider != BuiltinProviderTag {
			continue
		}

		// 4. Builtin registrations from other installations of this app.
		if strings.HasPrefix(p.PlayerID, identity.PlayerIDPrefix) && p.PlayerID != ownID {
			continue
		}

		// 5. Unavailable players, except our own: the local engine
		// knows it is alive even when the server momentarily disagrees.
		if !p.Available && p.PlayerID != ownID {
			continue
		}

		out = append(out, p)
	}

	return out
}
