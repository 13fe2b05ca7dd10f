package api

import "encoding/json"

// PlayerState is the transport state the server reports for a player.
type PlayerState string

const (
	StateIdle    PlayerState = "idle"
	StatePlaying PlayerState = "playing"
	StatePaused  PlayerState = "paused"
)

// Player is a playback endpoint managed by the server. Instances are
// ephemeral and replaced wholesale on every directory fetch.
type Player struct {
	PlayerID    string      `json:"player_id"`
	Provider    string      `json:"provider"`
	DisplayName string      `json:"display_name"`
	Available   bool        `json:"available"`
	Powered     bool        `json:"powered"`
	State       PlayerState `json:"state"`
	VolumeLevel int         `json:"volume_level"`
	VolumeMuted bool        `json:"volume_muted"`
}

// Artist .
type Artist struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// Album .
type Album struct {
	URI  string `json:"uri"`
	Name string `json:"name"`
}

// MediaItemImage points at artwork for a media item. Path is either a
// full URL (remote) or a provider-relative path served through the
// server's image proxy.
type MediaItemImage struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	Provider string `json:"provider"`
	Remote   bool   `json:"remotely_accessible"`
}

// Track is the server's media item for a single playable track.
type Track struct {
	ItemID   string           `json:"item_id"`
	URI      string           `json:"uri"`
	Name     string           `json:"name"`
	Artists  []Artist         `json:"artists"`
	Album    *Album           `json:"album,omitempty"`
	Duration float64          `json:"duration,omitempty"`
	Images   []MediaItemImage `json:"images,omitempty"`
}

// QueueItem is a single entry in a player queue.
type QueueItem struct {
	QueueItemID string  `json:"queue_item_id"`
	Name        string  `json:"name"`
	Duration    float64 `json:"duration,omitempty"`
	MediaItem   *Track  `json:"media_item,omitempty"`
}

// PlayerQueue is the server-side ordered list of upcoming tracks for a
// player, plus its current position.
type PlayerQueue struct {
	QueueID      string      `json:"queue_id"`
	Active       bool        `json:"active"`
	Items        int         `json:"items"`
	CurrentIndex *int        `json:"current_index,omitempty"`
	CurrentItem  *QueueItem  `json:"current_item,omitempty"`
	State        PlayerState `json:"state"`
	ElapsedTime  float64     `json:"elapsed_time"`
}

// ServerInfo is the first message the server sends after the socket is
// established.
type ServerInfo struct {
	ServerID      string `json:"server_id"`
	ServerVersion string `json:"server_version"`
	SchemaVersion int    `json:"schema_version"`
	BaseURL       string `json:"base_url"`
}

// BuiltinPlayerState is the transport snapshot a builtin player reports
// back to the server.
type BuiltinPlayerState struct {
	Powered  bool    `json:"powered"`
	Playing  bool    `json:"playing"`
	Paused   bool    `json:"paused"`
	Position float64 `json:"position"`
	Volume   int     `json:"volume"`
	Muted    bool    `json:"muted"`
}

// EventType identifies a server push event.
type EventType string

const (
	// EventBuiltinPlayer carries a command addressed to a builtin player.
	EventBuiltinPlayer EventType = "builtin_player"
	// EventPlayerUpdated is broadcast whenever any player's state or
	// current media changes.
	EventPlayerUpdated EventType = "player_updated"
	// EventQueueUpdated is broadcast when a player queue changes.
	EventQueueUpdated EventType = "queue_updated"
)

// Event is a server push message. Data stays raw until a consumer
// decodes it into the shape it expects.
type Event struct {
	Event    EventType       `json:"event"`
	ObjectID string          `json:"object_id"`
	Data     json.RawMessage `json:"data"`
}
