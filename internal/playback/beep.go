package playback

import (
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
)

const (
	speakerBufferSize = time.Millisecond * 250
	minVolumeDB       = -10.0
	volumeCurveExp    = 0.5
)

// BeepBackend plays MP3 streams through the host speaker. It decodes
// over the HTTP body as it arrives, so live flow streams work the same
// as finite track URLs.
type BeepBackend struct {
	HTTPClient *http.Client

	mu          sync.Mutex
	speakerInit bool
	sampleRate  beep.SampleRate
	streamer    beep.StreamSeekCloser
	format      beep.Format
	ctrl        *beep.Ctrl
	volume      *effects.Volume
	body        interface{ Close() error }
	level       float64
	levelSet    bool
	playing     bool
	paused      bool
}

func (b *BeepBackend) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

func (b *BeepBackend) initSpeakerLocked(rate beep.SampleRate) error {
	if b.speakerInit && rate == b.sampleRate {
		return nil
	}
	if err := speaker.Init(rate, rate.N(speakerBufferSize)); err != nil {
		return fmt.Errorf("initSpeaker error: %w", err)
	}
	b.sampleRate = rate
	b.speakerInit = true
	return nil
}

// Play fetches the URL and starts decoding into the speaker. Any
// previous stream is torn down first.
func (b *BeepBackend) Play(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopLocked()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("Play request error: %w", err)
	}

	resp, err := b.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("Play fetch error: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("Play fetch error: stream returned status %s", resp.Status)
	}

	streamer, format, err := mp3.Decode(resp.Body)
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("Play decode error: %w", err)
	}

	if err := b.initSpeakerLocked(format.SampleRate); err != nil {
		streamer.Close()
		resp.Body.Close()
		return err
	}

	level := b.level
	if !b.levelSet {
		level = 1.0
	}

	b.streamer = streamer
	b.format = format
	b.body = resp.Body
	b.volume = &effects.Volume{
		Streamer: streamer,
		Base:     2,
		Volume:   levelToExponent(level),
		Silent:   level == 0,
	}
	b.ctrl = &beep.Ctrl{Streamer: b.volume}
	b.playing = true
	b.paused = false

	speaker.Play(b.ctrl)
	return nil
}

// Resume unpauses a paused stream.
func (b *BeepBackend) Resume() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctrl == nil {
		return nil
	}
	speaker.Lock()
	b.ctrl.Paused = false
	speaker.Unlock()
	b.paused = false
	return nil
}

// Pause .
func (b *BeepBackend) Pause() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctrl == nil {
		return nil
	}
	speaker.Lock()
	b.ctrl.Paused = true
	speaker.Unlock()
	b.paused = true
	return nil
}

// Stop halts playback and closes the underlying stream.
func (b *BeepBackend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
	return nil
}

func (b *BeepBackend) stopLocked() {
	if !b.playing && b.streamer == nil {
		return
	}
	speaker.Clear()
	if b.streamer != nil {
		b.streamer.Close()
		b.streamer = nil
	}
	if b.body != nil {
		b.body.Close()
		b.body = nil
	}
	b.ctrl = nil
	b.volume = nil
	b.playing = false
	b.paused = false
}

// Seek repositions the decoder. Live streams are not seekable and
// return the decoder's error.
func (b *BeepBackend) Seek(position time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streamer == nil {
		return nil
	}
	speaker.Lock()
	err := b.streamer.Seek(b.format.SampleRate.N(position))
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("Seek error: %w", err)
	}
	return nil
}

// SetVolume sets the output level (0.0 to 1.0). The level is kept for
// streams started later.
func (b *BeepBackend) SetVolume(level float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.level = level
	b.levelSet = true
	if b.volume == nil {
		return nil
	}
	speaker.Lock()
	b.volume.Volume = levelToExponent(level)
	b.volume.Silent = level == 0
	speaker.Unlock()
	return nil
}

// IsPlaying .
func (b *BeepBackend) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.playing && !b.paused
}

// Position reports how far into the stream the decoder has read.
func (b *BeepBackend) Position() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.streamer == nil {
		return 0
	}
	speaker.Lock()
	pos := b.streamer.Position()
	speaker.Unlock()
	return b.format.SampleRate.D(pos)
}

// Volume .
func (b *BeepBackend) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.levelSet {
		return 1.0
	}
	return b.level
}

// Perceived loudness is roughly logarithmic, so the linear level maps
// onto a dB curve before it reaches the volume effect.
func levelToExponent(level float64) float64 {
	if level <= 0 {
		return minVolumeDB
	}
	if level >= 1 {
		return 0
	}
	return (1.0 - math.Pow(level, volumeCurveExp)) * minVolumeDB
}
