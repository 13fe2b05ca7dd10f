package bridge

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Command
	}{
		{
			name:    "play media with metadata",
			payload: `{"type":"play_media","media_url":"/stream/1.mp3","metadata":{"title":"Kashmir","artist":"Led Zeppelin","duration":515.2}}`,
			want: PlayMediaCommand{
				MediaURL: "/stream/1.mp3",
				Metadata: &InlineMetadata{Title: "Kashmir", Artist: "Led Zeppelin", Duration: 515.2},
			},
		},
		{
			name:    "play media without metadata",
			payload: `{"type":"play_media","media_url":"/stream/1.mp3"}`,
			want:    PlayMediaCommand{MediaURL: "/stream/1.mp3"},
		},
		{
			name:    "play",
			payload: `{"type":"play"}`,
			want:    PlayCommand{},
		},
		{
			name:    "pause",
			payload: `{"type":"pause"}`,
			want:    PauseCommand{},
		},
		{
			name:    "stop",
			payload: `{"type":"stop"}`,
			want:    StopCommand{},
		},
		{
			name:    "seek",
			payload: `{"type":"seek","position":42.5}`,
			want:    SeekCommand{Position: 42.5},
		},
		{
			name:    "volume set",
			payload: `{"type":"volume_set","volume_level":65}`,
			want:    VolumeSetCommand{Level: 65},
		},
		{
			name:    "volume mute",
			payload: `{"type":"volume_mute","muted":true}`,
			want:    MuteSetCommand{Muted: true},
		},
		{
			name:    "power on",
			payload: `{"type":"power_on"}`,
			want:    PowerCommand{Powered: true},
		},
		{
			name:    "power off",
			payload: `{"type":"power_off"}`,
			want:    PowerCommand{Powered: false},
		},
		{
			name:    "legacy power form",
			payload: `{"type":"power","powered":true}`,
			want:    PowerCommand{Powered: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(json.RawMessage(tt.payload))
			if err != nil {
				t.Fatalf("ParseCommand() err = %v, want nil", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseCommand() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestParseCommandUnknownType(t *testing.T) {
	_, err := ParseCommand(json.RawMessage(`{"type":"teleport"}`))
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("ParseCommand() err = %v, want %v", err, ErrUnknownCommand)
	}
}

func TestParseCommandBadJSON(t *testing.T) {
	_, err := ParseCommand(json.RawMessage(`{"type":`))
	if err == nil {
		t.Fatalf("ParseCommand() err = nil, want decode error")
	}
}
