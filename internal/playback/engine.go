package playback

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State represents the engine's transport state.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

// TrackMetadata is the flattened projection of a track used to drive
// the notification surface. It exists apart from the wire Track type
// because metadata can arrive from a server push ahead of the
// play-media command that references it.
type TrackMetadata struct {
	Title      string
	Artist     string
	Album      string
	ArtworkURL string
	Duration   time.Duration
}

// Backend is the raw on-device audio pipeline the engine adapts.
type Backend interface {
	Play(url string) error
	Resume() error
	Pause() error
	Stop() error
	Seek(position time.Duration) error
	SetVolume(level float64) error
	IsPlaying() bool
	Position() time.Duration
	Volume() float64
}

// Notifier is the platform media-session/notification surface.
type Notifier interface {
	Update(meta TrackMetadata, playing bool) error
	Clear() error
}

// NoopNotifier satisfies Notifier on platforms without a notification
// surface.
type NoopNotifier struct{}

func (NoopNotifier) Update(TrackMetadata, bool) error { return nil }
func (NoopNotifier) Clear() error                     { return nil }

// Engine wraps the audio backend with state tracking and the
// notification side effects all mutating calls may trigger.
type Engine struct {
	Backend   Backend
	Notifier  Notifier
	Logger    zerolog.Logger
	LogOutput io.Writer

	initLogOnce sync.Once

	mu      sync.RWMutex
	state   State
	meta    TrackMetadata
	hasMeta bool
}

// Log returns the zerolog logger, initializing it lazily if LogOutput
// is set.
func (e *Engine) Log() *zerolog.Logger {
	if e.LogOutput != nil {
		e.initLogOnce.Do(func() {
			e.Logger = zerolog.New(e.LogOutput).With().Timestamp().Logger()
		})
	}
	return &e.Logger
}

func (e *Engine) notifier() Notifier {
	if e.Notifier == nil {
		return NoopNotifier{}
	}
	return e.Notifier
}

// Play starts playback of the given URL and refreshes the notification.
func (e *Engine) Play(url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Log().Debug().Str("Method", "Play").Str("URL", url).Msg("starting playback")
	if err := e.Backend.Play(url); err != nil {
		e.Log().Error().Str("Method", "Play").Err(err).Msg("failed")
		return fmt.Errorf("Play backend error: %w", err)
	}
	e.state = StatePlaying

	e.updateNotificationLocked()
	return nil
}

// Resume restarts paused playback without reloading media.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Log().Debug().Str("Method", "Resume").Msg("resuming playback")
	if err := e.Backend.Resume(); err != nil {
		e.Log().Error().Str("Method", "Resume").Err(err).Msg("failed")
		return fmt.Errorf("Resume backend error: %w", err)
	}
	e.state = StatePlaying

	e.updateNotificationLocked()
	return nil
}

// Pause .
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Log().Debug().Str("Method", "Pause").Msg("pausing playback")
	if err := e.Backend.Pause(); err != nil {
		e.Log().Error().Str("Method", "Pause").Err(err).Msg("failed")
		return fmt.Errorf("Pause backend error: %w", err)
	}
	if e.state == StatePlaying {
		e.state = StatePaused
	}

	e.updateNotificationLocked()
	return nil
}

// Stop halts playback and clears the notification.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Log().Debug().Str("Method", "Stop").Msg("stopping playback")
	if err := e.Backend.Stop(); err != nil {
		e.Log().Error().Str("Method", "Stop").Err(err).Msg("failed")
		return fmt.Errorf("Stop backend error: %w", err)
	}
	e.state = StateStopped
	e.hasMeta = false

	if err := e.notifier().Clear(); err != nil {
		e.Log().Debug().Str("Method", "Stop").Err(err).Msg("notification clear failed")
	}
	return nil
}

// Seek .
func (e *Engine) Seek(position time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Log().Debug().Str("Method", "Seek").Dur("Position", position).Msg("seeking")
	if err := e.Backend.Seek(position); err != nil {
		e.Log().Error().Str("Method", "Seek").Err(err).Msg("failed")
		return fmt.Errorf("Seek backend error: %w", err)
	}
	return nil
}

// SetVolume sets volume (0.0 to 1.0).
func (e *Engine) SetVolume(level float64) error {
	if level < 0.0 || level > 1.0 {
		return fmt.Errorf("SetVolume: level %f out of range", level)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.Log().Debug().Str("Method", "SetVolume").Float64("Level", level).Msg("setting volume")
	if err := e.Backend.SetVolume(level); err != nil {
		e.Log().Error().Str("Method", "SetVolume").Err(err).Msg("failed")
		return fmt.Errorf("SetVolume backend error: %w", err)
	}
	return nil
}

// IsPlaying .
func (e *Engine) IsPlaying() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StatePlaying
}

// State .
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Position .
func (e *Engine) Position() time.Duration {
	return e.Backend.Position()
}

// Volume .
func (e *Engine) Volume() float64 {
	return e.Backend.Volume()
}

// SetCurrentTrackMetadata records what is (about to be) playing. It
// does not touch the notification; callers pick the unconditional or
// the while-playing-only update.
func (e *Engine) SetCurrentTrackMetadata(meta TrackMetadata) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.meta = meta
	e.hasMeta = true
}

// CurrentTrackMetadata .
func (e *Engine) CurrentTrackMetadata() (TrackMetadata, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.meta, e.hasMeta
}

// UpdateNotification pushes the current metadata to the notification
// surface unconditionally. Call when a new track starts.
func (e *Engine) UpdateNotification() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.updateNotificationLocked()
}

// UpdateNotificationIfPlaying refreshes the notification only while
// the engine is active, so stale metadata never flashes over an idle
// session.
func (e *Engine) UpdateNotificationIfPlaying() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StatePlaying {
		return
	}
	e.updateNotificationLocked()
}

func (e *Engine) updateNotificationLocked() {
	if !e.hasMeta {
		return
	}
	if err := e.notifier().Update(e.meta, e.state == StatePlaying); err != nil {
		e.Log().Debug().Str("Method", "updateNotification").Err(err).Msg("notification update failed")
	}
}
