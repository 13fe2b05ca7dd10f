package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// GetPlayers fetches the full player directory, unfiltered.
func (c *Client) GetPlayers(ctx context.Context) ([]Player, error) {
	res, err := c.SendCommand(ctx, "players/all", nil)
	if err != nil {
		return nil, fmt.Errorf("GetPlayers: %w", err)
	}

	var players []Player
	if err := json.Unmarshal(res, &players); err != nil {
		return nil, fmt.Errorf("GetPlayers decode error: %w", err)
	}
	return players, nil
}

// GetPlayer fetches a single player's live state.
func (c *Client) GetPlayer(ctx context.Context, playerID string) (*Player, error) {
	res, err := c.SendCommand(ctx, "players/get", map[string]any{"player_id": playerID})
	if err != nil {
		return nil, fmt.Errorf("GetPlayer: %w", err)
	}
	if len(res) == 0 || string(res) == "null" {
		return nil, nil
	}

	var player Player
	if err := json.Unmarshal(res, &player); err != nil {
		return nil, fmt.Errorf("GetPlayer decode error: %w", err)
	}
	return &player, nil
}

// GetQueue fetches the active queue for a player, or nil when the
// player has none.
func (c *Client) GetQueue(ctx context.Context, playerID string) (*PlayerQueue, error) {
	res, err := c.SendCommand(ctx, "player_queues/get", map[string]any{"queue_id": playerID})
	if err != nil {
		return nil, fmt.Errorf("GetQueue: %w", err)
	}
	if len(res) == 0 || string(res) == "null" {
		return nil, nil
	}

	var queue PlayerQueue
	if err := json.Unmarshal(res, &queue); err != nil {
		return nil, fmt.Errorf("GetQueue decode error: %w", err)
	}
	return &queue, nil
}

// RegisterBuiltinPlayer announces this installation as a builtin player.
func (c *Client) RegisterBuiltinPlayer(ctx context.Context, playerID, name string) error {
	_, err := c.SendCommand(ctx, "builtin_player/register", map[string]any{
		"player_id":   playerID,
		"player_name": name,
	})
	if err != nil {
		return fmt.Errorf("RegisterBuiltinPlayer: %w", err)
	}
	return nil
}

// UpdateBuiltinPlayerState reports the local transport snapshot.
func (c *Client) UpdateBuiltinPlayerState(ctx context.Context, playerID string, state BuiltinPlayerState) error {
	_, err := c.SendCommand(ctx, "builtin_player/update_state", map[string]any{
		"player_id": playerID,
		"state":     state,
	})
	if err != nil {
		return fmt.Errorf("UpdateBuiltinPlayerState: %w", err)
	}
	return nil
}

// SetPower .
func (c *Client) SetPower(ctx context.Context, playerID string, powered bool) error {
	_, err := c.SendCommand(ctx, "players/cmd/power", map[string]any{
		"player_id": playerID,
		"powered":   powered,
	})
	if err != nil {
		return fmt.Errorf("SetPower: %w", err)
	}
	return nil
}

// SetVolume sets a player's volume on the 0-100 scale.
func (c *Client) SetVolume(ctx context.Context, playerID string, level int) error {
	_, err := c.SendCommand(ctx, "players/cmd/volume_set", map[string]any{
		"player_id":    playerID,
		"volume_level": level,
	})
	if err != nil {
		return fmt.Errorf("SetVolume: %w", err)
	}
	return nil
}

// SetMute .
func (c *Client) SetMute(ctx context.Context, playerID string, muted bool) error {
	_, err := c.SendCommand(ctx, "players/cmd/volume_mute", map[string]any{
		"player_id": playerID,
		"muted":     muted,
	})
	if err != nil {
		return fmt.Errorf("SetMute: %w", err)
	}
	return nil
}

// Seek jumps to a position (seconds) in the current track.
func (c *Client) Seek(ctx context.Context, playerID string, position int) error {
	_, err := c.SendCommand(ctx, "players/cmd/seek", map[string]any{
		"player_id": playerID,
		"position":  position,
	})
	if err != nil {
		return fmt.Errorf("Seek: %w", err)
	}
	return nil
}

// NextTrack .
func (c *Client) NextTrack(ctx context.Context, playerID string) error {
	_, err := c.SendCommand(ctx, "players/cmd/next", map[string]any{"player_id": playerID})
	if err != nil {
		return fmt.Errorf("NextTrack: %w", err)
	}
	return nil
}

// PreviousTrack .
func (c *Client) PreviousTrack(ctx context.Context, playerID string) error {
	_, err := c.SendCommand(ctx, "players/cmd/previous", map[string]any{"player_id": playerID})
	if err != nil {
		return fmt.Errorf("PreviousTrack: %w", err)
	}
	return nil
}

// PausePlayer .
func (c *Client) PausePlayer(ctx context.Context, playerID string) error {
	_, err := c.SendCommand(ctx, "players/cmd/pause", map[string]any{"player_id": playerID})
	if err != nil {
		return fmt.Errorf("PausePlayer: %w", err)
	}
	return nil
}

// ResumePlayer .
func (c *Client) ResumePlayer(ctx context.Context, playerID string) error {
	_, err := c.SendCommand(ctx, "players/cmd/play", map[string]any{"player_id": playerID})
	if err != nil {
		return fmt.Errorf("ResumePlayer: %w", err)
	}
	return nil
}

// GetImageURL resolves the best artwork URL for a track at the given
// pixel size. Remote images pass through untouched; provider images
// route through the server's image proxy.
func (c *Client) GetImageURL(track *Track, size int) string {
	if track == nil || len(track.Images) == 0 {
		return ""
	}

	img := track.Images[0]
	for _, candidate := range track.Images {
		if candidate.Type == "thumb" {
			img = candidate
			break
		}
	}

	if img.Remote {
		return img.Path
	}

	base := c.ServerInfo().BaseURL
	if base == "" {
		base = c.BaseURL
	}

	return fmt.Sprintf("%s/imageproxy?path=%s&provider=%s&size=%d",
		base, url.QueryEscape(img.Path), url.QueryEscape(img.Provider), size)
}
