package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

var ErrUnknownCommand = errors.New("bridge: unknown builtin player command")

// Command is the parsed form of a builtin-player command event. The
// loosely-typed event payload is decoded once at the boundary so the
// handlers can switch exhaustively instead of re-probing map keys.
type Command interface {
	isCommand()
}

// InlineMetadata is the sparse track info a play_media command carries
// along. A richer pending record from a player-updated push takes
// precedence when one exists.
type InlineMetadata struct {
	Title    string  `mapstructure:"title"`
	Artist   string  `mapstructure:"artist"`
	Album    string  `mapstructure:"album"`
	ImageURL string  `mapstructure:"image_url"`
	Duration float64 `mapstructure:"duration"`
}

// PlayMediaCommand starts playback of a (possibly server-relative) URL.
type PlayMediaCommand struct {
	MediaURL string          `mapstructure:"media_url"`
	Metadata *InlineMetadata `mapstructure:"metadata"`
}

// PlayCommand resumes playback.
type PlayCommand struct{}

// PauseCommand .
type PauseCommand struct{}

// StopCommand .
type StopCommand struct{}

// SeekCommand jumps to a position in seconds.
type SeekCommand struct {
	Position float64 `mapstructure:"position"`
}

// VolumeSetCommand carries a 0-100 level.
type VolumeSetCommand struct {
	Level int `mapstructure:"volume_level"`
}

// MuteSetCommand .
type MuteSetCommand struct {
	Muted bool `mapstructure:"muted"`
}

// PowerCommand covers power_on, power_off and the legacy boolean form.
type PowerCommand struct {
	Powered bool `mapstructure:"powered"`
}

func (PlayMediaCommand) isCommand() {}
func (PlayCommand) isCommand()      {}
func (PauseCommand) isCommand()     {}
func (StopCommand) isCommand()      {}
func (SeekCommand) isCommand()      {}
func (VolumeSetCommand) isCommand() {}
func (MuteSetCommand) isCommand()   {}
func (PowerCommand) isCommand()     {}

// ParseCommand decodes a builtin-player event payload into its typed
// command.
func ParseCommand(data json.RawMessage) (Command, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ParseCommand decode error: %w", err)
	}

	kind, _ := raw["type"].(string)

	switch kind {
	case "play_media":
		cmd := PlayMediaCommand{}
		if err := mapstructure.Decode(raw, &cmd); err != nil {
			return nil, fmt.Errorf("ParseCommand play_media decode error: %w", err)
		}
		return cmd, nil
	case "play":
		return PlayCommand{}, nil
	case "pause":
		return PauseCommand{}, nil
	case "stop":
		return StopCommand{}, nil
	case "seek":
		cmd := SeekCommand{}
		if err := mapstructure.Decode(raw, &cmd); err != nil {
			return nil, fmt.Errorf("ParseCommand seek decode error: %w", err)
		}
		return cmd, nil
	case "volume_set":
		cmd := VolumeSetCommand{}
		if err := mapstructure.Decode(raw, &cmd); err != nil {
			return nil, fmt.Errorf("ParseCommand volume_set decode error: %w", err)
		}
		return cmd, nil
	case "volume_mute":
		cmd := MuteSetCommand{}
		if err := mapstructure.Decode(raw, &cmd); err != nil {
			return nil, fmt.Errorf("ParseCommand volume_mute decode error: %w", err)
		}
		return cmd, nil
	case "power_on":
		return PowerCommand{Powered: true}, nil
	case "power_off":
		return PowerCommand{Powered: false}, nil
	case "power":
		// Legacy servers send a single power command with a flag.
		cmd := PowerCommand{}
		if err := mapstructure.Decode(raw, &cmd); err != nil {
			return nil, fmt.Errorf("ParseCommand power decode error: %w", err)
		}
		return cmd, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, kind)
}
