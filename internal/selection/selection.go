package selection

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"masgo.app/masgo/internal/api"
	"masgo.app/masgo/internal/directory"
	"masgo.app/masgo/internal/settings"
)

// defaultPollInterval is how often the selected player's live state is
// re-fetched.
const defaultPollInterval = 5 * time.Second

// Server is the slice of the api client the controller needs.
type Server interface {
	GetPlayer(ctx context.Context, playerID string) (*api.Player, error)
	GetQueue(ctx context.Context, playerID string) (*api.PlayerQueue, error)
	GetImageURL(track *api.Track, size int) string
}

// Controller owns which player is the UI's current target. It is the
// single writer of the selection; everything else reads through it.
// State changes are surfaced through the OnChange observer so the
// reconciliation core stays testable without a UI harness.
type Controller struct {
	Directory    *directory.Cache
	Server       Server
	Store        *settings.Store
	OwnPlayerID  string
	PollInterval time.Duration
	OnChange     func()
	Logger       zerolog.Logger
	LogOutput    io.Writer

	initLogOnce sync.Once

	mu          sync.Mutex
	selected    *api.Player
	tracks      map[string]*api.Track
	accents     map[string]string
	pollCancel  context.CancelFunc
	pollStopped chan struct{}
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set.
func (c *Controller) Log() *zerolog.Logger {
	if c.LogOutput != nil {
		c.initLogOnce.Do(func() {
			c.Logger = zerolog.New(c.LogOutput).With().Timestamp().Logger()
		})
	}
	return &c.Logger
}

func (c *Controller) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return defaultPollInterval
}

func (c *Controller) notifyChange() {
	if c.OnChange != nil {
		c.OnChange()
	}
}

// SelectedPlayer returns a copy of the current selection, or nil.
func (c *Controller) SelectedPlayer() *api.Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == nil {
		return nil
	}
	p := *c.selected
	return &p
}

// RefreshDirectory refreshes the directory cache and reconciles the
// selection against the result. An existing selection is kept whenever
// its id is still present; auto-selection only runs when there is no
// valid selection.
func (c *Controller) RefreshDirectory(ctx context.Context, force bool) ([]api.Player, error) {
	players, err := c.Directory.Refresh(ctx, force)
	if err != nil {
		// Stale data keeps displaying; the selection is left alone.
		return players, err
	}

	c.mu.Lock()
	prevID := ""
	if c.selected != nil {
		prevID = c.selected.PlayerID
	}
	changed := false

	if c.selected != nil {
		if fresh := findPlayer(players, c.selected.PlayerID); fresh != nil {
			if *fresh != *c.selected {
				p := *fresh
				c.selected = &p
				changed = true
			}
		} else {
			c.selected = nil
			changed = true
		}
	}

	if c.selected == nil {
		if pick := c.autoSelect(players); pick != nil {
			p := *pick
			c.selected = &p
			changed = true
		}
	}

	selected := c.selected
	c.mu.Unlock()

	if changed {
		// Polling and preloading follow the identity, not attribute
		// churn on the same player.
		switch {
		case selected == nil:
			c.stopPolling()
		case selected.PlayerID != prevID:
			c.startPolling(selected.PlayerID)
			go c.preloadAdjacent(players, selected.PlayerID)
		}
		c.notifyChange()
	}

	return players, nil
}

// autoSelect picks a player by strict priority: the id remembered from
// the previous session, this device's own builtin player, any player
// already playing, the first available one, and as a last resort the
// first entry regardless of availability. Caller holds c.mu.
func (c *Controller) autoSelect(players []api.Player) *api.Player {
	if len(players) == 0 {
		return nil
	}

	if last := c.Store.LastSelectedPlayer(); last != "" {
		if p := findPlayer(players, last); p != nil && p.Available {
			return p
		}
	}

	if own := findPlayer(players, c.OwnPlayerID); own != nil && own.Available {
		return own
	}

	for i := range players {
		if players[i].State == api.StatePlaying {
			return &players[i]
		}
	}

	for i := range players {
		if players[i].Available {
			return &players[i]
		}
	}

	return &players[0]
}

// SelectPlayer unconditionally overrides the selection, persists it as
// the last-selected player, and (re)starts state polling.
func (c *Controller) SelectPlayer(player api.Player) {
	c.mu.Lock()
	p := player
	c.selected = &p
	c.mu.Unlock()

	if err := c.Store.SetLastSelectedPlayer(player.PlayerID); err != nil {
		c.Log().Warn().Str("Method", "SelectPlayer").Err(err).Msg("failed to persist selection")
	}

	c.startPolling(player.PlayerID)
	go c.preloadAdjacent(c.Directory.Players(), player.PlayerID)
	c.notifyChange()
}

// startPolling replaces any running poll loop with one for the given
// player.
func (c *Controller) startPolling(playerID string) {
	c.stopPolling()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})

	c.mu.Lock()
	c.pollCancel = cancel
	c.pollStopped = stopped
	c.mu.Unlock()

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(c.pollInterval())
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.pollOnce(ctx, playerID)
			}
		}
	}()
}

// stopPolling cancels the poll loop and waits for it to wind down.
func (c *Controller) stopPolling() {
	c.mu.Lock()
	cancel := c.pollCancel
	stopped := c.pollStopped
	c.pollCancel = nil
	c.pollStopped = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-stopped
	}
}

// Close releases the poll loop. Safe to call more than once.
func (c *Controller) Close() {
	c.stopPolling()
}

// pollOnce re-fetches the selected player's live state and its queue
// head. Each tick is independent; a hung call stalls only its own
// cycle.
func (c *Controller) pollOnce(ctx context.Context, playerID string) {
	fresh, err := c.Server.GetPlayer(ctx, playerID)
	if err != nil {
		c.Log().Debug().Str("Method", "pollOnce").Err(err).Msg("player poll failed")
		return
	}
	if fresh == nil {
		return
	}

	c.mu.Lock()
	changed := false
	if c.selected != nil && c.selected.PlayerID == playerID && *c.selected != *fresh {
		p := *fresh
		c.selected = &p
		changed = true
	}
	c.mu.Unlock()

	if track, ok := c.fetchCurrentTrack(ctx, fresh); ok {
		c.mu.Lock()
		prev := c.tracks[playerID]
		if !sameTrack(prev, track) {
			c.setTrackLocked(playerID, track)
			changed = true
		}
		c.mu.Unlock()
	}

	if changed {
		c.notifyChange()
	}
}

// fetchCurrentTrack resolves what the player is currently on. A track
// is only surfaced while the player is available and in a state worth
// showing; otherwise the cached track is cleared.
func (c *Controller) fetchCurrentTrack(ctx context.Context, player *api.Player) (*api.Track, bool) {
	if !trackWorthShowing(player) {
		return nil, true
	}

	queue, err := c.Server.GetQueue(ctx, player.PlayerID)
	if err != nil {
		c.Log().Debug().Str("Method", "fetchCurrentTrack").Err(err).Msg("queue fetch failed")
		return nil, false
	}
	if queue == nil || queue.CurrentItem == nil || queue.CurrentItem.MediaItem == nil {
		return nil, true
	}

	return queue.CurrentItem.MediaItem, true
}

func trackWorthShowing(player *api.Player) bool {
	if player == nil || !player.Available {
		return false
	}

	switch player.State {
	case api.StatePlaying, api.StatePaused:
		return true
	case api.StateIdle:
		return player.Powered
	}
	return false
}

// CurrentTrack returns the cached now-playing track for a player, or
// nil. The cache makes switching selection render instantly.
func (c *Controller) CurrentTrack(playerID string) *api.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks[playerID]
}

// SetCachedTrack stores a now-playing track pushed by the server for
// any player, local or remote.
func (c *Controller) SetCachedTrack(playerID string, track *api.Track) {
	c.mu.Lock()
	c.setTrackLocked(playerID, track)
	selected := c.selected != nil && c.selected.PlayerID == playerID
	c.mu.Unlock()

	if selected {
		c.notifyChange()
	}
}

func (c *Controller) setTrackLocked(playerID string, track *api.Track) {
	if c.tracks == nil {
		c.tracks = make(map[string]*api.Track)
	}
	if track == nil {
		delete(c.tracks, playerID)
		return
	}
	c.tracks[playerID] = track
}

// AccentColor returns the cached artwork accent for a player as a hex
// string, or "".
func (c *Controller) AccentColor(playerID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accents[playerID]
}

// preloadAdjacent opportunistically warms the track and accent caches
// for the players immediately before and after the selection in sort
// order, so swipe-style switching has no loading flash. All failures
// here are logged and swallowed.
func (c *Controller) preloadAdjacent(players []api.Player, playerID string) {
	idx := -1
	for i := range players {
		if players[i].PlayerID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, n := range []int{idx - 1, idx + 1} {
		if n < 0 || n >= len(players) {
			continue
		}
		c.preloadPlayer(ctx, &players[n])
	}
}

func (c *Controller) preloadPlayer(ctx context.Context, player *api.Player) {
	track, ok := c.fetchCurrentTrack(ctx, player)
	if !ok {
		return
	}

	c.mu.Lock()
	c.setTrackLocked(player.PlayerID, track)
	c.mu.Unlock()

	if track == nil {
		return
	}

	artURL := c.Server.GetImageURL(track, 256)
	if artURL == "" {
		return
	}

	hex, err := AccentFromURL(artURL)
	if err != nil {
		c.Log().Debug().Str("Method", "preloadPlayer").Err(err).Msg("accent preload failed")
		return
	}

	c.mu.Lock()
	if c.accents == nil {
		c.accents = make(map[string]string)
	}
	c.accents[player.PlayerID] = hex
	c.mu.Unlock()
}

func findPlayer(players []api.Player, id string) *api.Player {
	for i := range players {
		if players[i].PlayerID == id {
			return &players[i]
		}
	}
	return nil
}

func sameTrack(a, b *api.Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.URI == b.URI
}

// String implements fmt.Stringer for debug logging.
func (c *Controller) String() string {
	p := c.SelectedPlayer()
	if p == nil {
		return "selection: none"
	}
	return fmt.Sprintf("selection: %s (%s)", p.DisplayName, p.PlayerID)
}
