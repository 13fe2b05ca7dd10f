package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"masgo.app/masgo/internal/api"
	"masgo.app/masgo/internal/playback"
)

const (
	// defaultReportInterval is how often local transport state is
	// pushed to the server.
	defaultReportInterval = time.Second

	// reportFlushDelay is how long a report shed by the limiter waits
	// before it is flushed, long enough for a command burst to drain.
	reportFlushDelay = 250 * time.Millisecond

	// flowStreamMediaType marks the server's transient internal
	// flow-mode streams, whose metadata is placeholder noise.
	flowStreamMediaType = "flow_stream"

	// internalProxyPort is the server's internal-only image proxy.
	// Artwork URLs pointing at it are unreachable from outside the
	// server host and get rerouted through the public base URL.
	internalProxyPort = "8097"
)

// Server is the slice of the api client the bridge talks back through.
type Server interface {
	UpdateBuiltinPlayerState(ctx context.Context, playerID string, state api.BuiltinPlayerState) error
}

// TrackSink receives now-playing tracks extracted from broadcast
// player updates, for every player, so other surfaces can render live
// data without polling.
type TrackSink interface {
	SetCachedTrack(playerID string, track *api.Track)
}

// Bridge receives server-pushed commands addressed to this device's
// builtin player and drives the local playback engine. It also owns
// the periodic state report in the opposite direction.
type Bridge struct {
	Client         Server
	Engine         *playback.Engine
	Tracks         TrackSink
	PlayerID       string
	BaseURL        string
	ReportInterval time.Duration
	Logger         zerolog.Logger
	LogOutput      io.Writer

	initLogOnce sync.Once
	limiterOnce sync.Once
	limiter     *rate.Limiter

	mu             sync.Mutex
	powered        bool
	muted          bool
	unmuteLevel    float64
	pendingMeta    *playback.TrackMetadata
	lastNotified   playback.TrackMetadata
	flushScheduled bool
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set.
func (b *Bridge) Log() *zerolog.Logger {
	if b.LogOutput != nil {
		b.initLogOnce.Do(func() {
			b.Logger = zerolog.New(b.LogOutput).With().Timestamp().Logger()
		})
	}
	return &b.Logger
}

func (b *Bridge) reportInterval() time.Duration {
	if b.ReportInterval > 0 {
		return b.ReportInterval
	}
	return defaultReportInterval
}

// reportLimiter caps immediate post-command reports. A volume drag
// fires dozens of commands per second; shed reports are flushed once
// the burst drains.
func (b *Bridge) reportLimiter() *rate.Limiter {
	b.limiterOnce.Do(func() {
		b.limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 2)
	})
	return b.limiter
}

// Run consumes the event stream until it closes or ctx is cancelled.
// Handler errors are logged and swallowed; an escaped error here would
// kill the subscription silently.
func (b *Bridge) Run(ctx context.Context, events <-chan api.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			b.HandleEvent(ctx, ev)
		}
	}
}

// RunReporter pushes local transport state on a fixed interval until
// ctx is cancelled. Engine failures never stop the loop; the next tick
// retries.
func (b *Bridge) RunReporter(ctx context.Context) {
	ticker := time.NewTicker(b.reportInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.ReportState(ctx)
		}
	}
}

// ReportState sends one transport snapshot to the server.
func (b *Bridge) ReportState(ctx context.Context) {
	b.mu.Lock()
	state := api.BuiltinPlayerState{
		Powered: b.powered,
		Muted:   b.muted,
	}
	b.mu.Unlock()

	switch b.Engine.State() {
	case playback.StatePlaying:
		state.Playing = true
	case playback.StatePaused:
		state.Paused = true
	}
	state.Position = b.Engine.Position().Seconds()
	state.Volume = int(b.Engine.Volume() * 100)

	if err := b.Client.UpdateBuiltinPlayerState(ctx, b.PlayerID, state); err != nil {
		b.Log().Debug().Str("Method", "ReportState").Err(err).Msg("state report failed, retrying next tick")
	}
}

// reportNow sends a state snapshot right after a handled command so
// the server sees the transition promptly instead of on the next tick.
// A report shed by the limiter schedules a single delayed flush, so
// the final state of a command burst still goes out without waiting
// for the periodic report.
func (b *Bridge) reportNow(ctx context.Context) {
	if b.reportLimiter().Allow() {
		b.ReportState(ctx)
		return
	}

	b.mu.Lock()
	scheduled := b.flushScheduled
	b.flushScheduled = true
	b.mu.Unlock()
	if scheduled {
		return
	}

	time.AfterFunc(reportFlushDelay, func() {
		b.mu.Lock()
		b.flushScheduled = false
		b.mu.Unlock()
		b.ReportState(context.Background())
	})
}

// SetPowered seeds the power flag, e.g. when restoring state on start.
func (b *Bridge) SetPowered(powered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.powered = powered
}

// Powered .
func (b *Bridge) Powered() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.powered
}

// HandleEvent routes one server push event.
func (b *Bridge) HandleEvent(ctx context.Context, ev api.Event) {
	switch ev.Event {
	case api.EventBuiltinPlayer:
		b.handleBuiltinCommand(ctx, ev)
	case api.EventPlayerUpdated:
		b.handlePlayerUpdated(ev)
	}
}

func (b *Bridge) handleBuiltinCommand(ctx context.Context, ev api.Event) {
	if ev.ObjectID != b.PlayerID {
		// Addressed to some other builtin player.
		return
	}

	cmd, err := ParseCommand(ev.Data)
	if err != nil {
		b.Log().Warn().Str("Method", "handleBuiltinCommand").Err(err).Msg("unparseable command")
		return
	}

	switch c := cmd.(type) {
	case PlayMediaCommand:
		b.handlePlayMedia(c)
	case PlayCommand:
		if err := b.Engine.Resume(); err != nil {
			b.Log().Warn().Str("Method", "handleBuiltinCommand").Err(err).Msg("resume failed")
		}
	case PauseCommand:
		if err := b.Engine.Pause(); err != nil {
			b.Log().Warn().Str("Method", "handleBuiltinCommand").Err(err).Msg("pause failed")
		}
	case StopCommand:
		if err := b.Engine.Stop(); err != nil {
			b.Log().Warn().Str("Method", "handleBuiltinCommand").Err(err).Msg("stop failed")
		}
	case SeekCommand:
		if err := b.Engine.Seek(time.Duration(c.Position * float64(time.Second))); err != nil {
			b.Log().Warn().Str("Method", "handleBuiltinCommand").Err(err).Msg("seek failed")
		}
	case VolumeSetCommand:
		if err := b.Engine.SetVolume(float64(c.Level) / 100); err != nil {
			b.Log().Warn().Str("Method", "handleBuiltinCommand").Err(err).Msg("volume set failed")
		}
		b.mu.Lock()
		b.muted = false
		b.mu.Unlock()
	case MuteSetCommand:
		b.handleMute(c.Muted)
	case PowerCommand:
		b.handlePower(c.Powered)
	}

	b.reportNow(ctx)
}

func (b *Bridge) handlePlayMedia(c PlayMediaCommand) {
	mediaURL := resolveMediaURL(c.MediaURL, b.BaseURL)
	if mediaURL == "" {
		b.Log().Warn().Str("Method", "handlePlayMedia").Str("URL", c.MediaURL).Msg("unusable media url")
		return
	}

	// A player-updated push usually lands before the play command and
	// carries richer metadata than the command itself. It is consumed
	// here so a later track without a push falls back to its own
	// inline metadata instead of the stale record.
	b.mu.Lock()
	meta := metadataFromInline(c.Metadata)
	if b.pendingMeta != nil {
		meta = *b.pendingMeta
		b.pendingMeta = nil
	}
	b.mu.Unlock()

	b.Engine.SetCurrentTrackMetadata(meta)
	if err := b.Engine.Play(mediaURL); err != nil {
		b.Log().Warn().Str("Method", "handlePlayMedia").Err(err).Msg("playback start failed")
		return
	}
	b.Engine.UpdateNotification()
}

func (b *Bridge) handleMute(muted bool) {
	b.mu.Lock()
	if muted == b.muted {
		b.mu.Unlock()
		return
	}
	b.muted = muted
	if muted {
		b.unmuteLevel = b.Engine.Volume()
	}
	restore := b.unmuteLevel
	b.mu.Unlock()

	level := 0.0
	if !muted {
		level = restore
	}
	if err := b.Engine.SetVolume(level); err != nil {
		b.Log().Warn().Str("Method", "handleMute").Err(err).Msg("mute level change failed")
	}
}

func (b *Bridge) handlePower(powered bool) {
	b.mu.Lock()
	b.powered = powered
	b.mu.Unlock()

	if !powered && b.Engine.State() != playback.StateStopped {
		if err := b.Engine.Stop(); err != nil {
			b.Log().Warn().Str("Method", "handlePower").Err(err).Msg("stop on power off failed")
		}
	}
}

// currentMedia is the now-playing block of a player-updated event.
type currentMedia struct {
	URI       string  `json:"uri"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Album     string  `json:"album"`
	ImageURL  string  `json:"image_url"`
	Duration  float64 `json:"duration"`
	MediaType string  `json:"media_type"`
}

type playerUpdate struct {
	api.Player
	CurrentMedia *currentMedia `json:"current_media"`
}

func (b *Bridge) handlePlayerUpdated(ev api.Event) {
	var update playerUpdate
	if err := json.Unmarshal(ev.Data, &update); err != nil {
		b.Log().Debug().Str("Method", "handlePlayerUpdated").Err(err).Msg("bad player update")
		return
	}

	media := update.CurrentMedia

	// Track cache first: every surface benefits from live now-playing
	// data, not just the local player.
	if b.Tracks != nil {
		if media != nil && media.URI != "" {
			b.Tracks.SetCachedTrack(ev.ObjectID, trackFromMedia(media, b.BaseURL))
		} else {
			b.Tracks.SetCachedTrack(ev.ObjectID, nil)
		}
	}

	if ev.ObjectID != b.PlayerID || media == nil {
		return
	}

	if media.MediaType == flowStreamMediaType {
		// Placeholder metadata; updating the notification with it
		// would flash nonsense between real tracks.
		return
	}

	meta := playback.TrackMetadata{
		Title:      media.Title,
		Artist:     media.Artist,
		Album:      media.Album,
		ArtworkURL: rewriteInternalImageURL(media.ImageURL, b.BaseURL),
		Duration:   time.Duration(media.Duration * float64(time.Second)),
	}

	b.mu.Lock()
	b.pendingMeta = &meta
	alreadyShown := meta == b.lastNotified
	if !alreadyShown {
		b.lastNotified = meta
	}
	b.mu.Unlock()

	if alreadyShown || !b.Engine.IsPlaying() {
		return
	}

	b.Engine.SetCurrentTrackMetadata(meta)
	b.Engine.UpdateNotificationIfPlaying()
}

func metadataFromInline(inline *InlineMetadata) playback.TrackMetadata {
	if inline == nil {
		return playback.TrackMetadata{}
	}
	return playback.TrackMetadata{
		Title:      inline.Title,
		Artist:     inline.Artist,
		Album:      inline.Album,
		ArtworkURL: inline.ImageURL,
		Duration:   time.Duration(inline.Duration * float64(time.Second)),
	}
}

func trackFromMedia(media *currentMedia, baseURL string) *api.Track {
	track := &api.Track{
		URI:      media.URI,
		Name:     media.Title,
		Duration: media.Duration,
	}
	if media.Artist != "" {
		track.Artists = []api.Artist{{Name: media.Artist}}
	}
	if media.Album != "" {
		track.Album = &api.Album{Name: media.Album}
	}
	if media.ImageURL != "" {
		track.Images = []api.MediaItemImage{{
			Type:   "thumb",
			Path:   rewriteInternalImageURL(media.ImageURL, baseURL),
			Remote: true,
		}}
	}
	return track
}

// resolveMediaURL resolves a possibly-relative media URL against the
// server base URL.
func resolveMediaURL(mediaURL, baseURL string) string {
	if mediaURL == "" {
		return ""
	}
	if strings.Contains(mediaURL, "://") {
		return mediaURL
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return ""
	}
	ref, err := url.Parse(mediaURL)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// rewriteInternalImageURL reroutes artwork URLs that point at the
// server's internal-only proxy port through the public base URL.
func rewriteInternalImageURL(imageURL, baseURL string) string {
	if imageURL == "" {
		return ""
	}

	u, err := url.Parse(imageURL)
	if err != nil || u.Port() != internalProxyPort {
		return imageURL
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return imageURL
	}

	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String()
}
