package selection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"masgo.app/masgo/internal/api"
	"masgo.app/masgo/internal/directory"
	"masgo.app/masgo/internal/settings"
)

type fakeServer struct {
	players map[string]*api.Player
	queues  map[string]*api.PlayerQueue
}

func (f *fakeServer) GetPlayer(ctx context.Context, playerID string) (*api.Player, error) {
	return f.players[playerID], nil
}

func (f *fakeServer) GetQueue(ctx context.Context, playerID string) (*api.PlayerQueue, error) {
	return f.queues[playerID], nil
}

func (f *fakeServer) GetImageURL(track *api.Track, size int) string {
	return ""
}

type fakeLister struct {
	players []api.Player
}

func (f *fakeLister) GetPlayers(ctx context.Context) ([]api.Player, error) {
	return f.players, nil
}

func newTestController(t *testing.T, lister *fakeLister, ownID string) *Controller {
	t.Helper()

	store := &settings.Store{Path: filepath.Join(t.TempDir(), "settings.json")}
	if _, err := store.Load(); err != nil {
		t.Fatalf("store.Load() err = %v, want nil", err)
	}

	ctrl := &Controller{
		Directory:    &directory.Cache{Client: lister, OwnPlayerID: ownID},
		Server:       &fakeServer{},
		Store:        store,
		OwnPlayerID:  ownID,
		PollInterval: time.Hour,
	}
	t.Cleanup(ctrl.Close)

	return ctrl
}

func TestAutoSelectPrefersLastSelected(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "attic", DisplayName: "Attic", Available: true},
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true, State: api.StatePlaying},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	if err := ctrl.Store.SetLastSelectedPlayer("attic"); err != nil {
		t.Fatalf("SetLastSelectedPlayer() err = %v, want nil", err)
	}

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "attic" {
		t.Fatalf("SelectedPlayer() = %v, want attic", got)
	}
}

func TestAutoSelectPrefersOwnPlayerOverPlaying(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true, State: api.StatePlaying},
		{PlayerID: "masgo_own", DisplayName: "This Device", Provider: directory.BuiltinProviderTag, Available: true},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "masgo_own" {
		t.Fatalf("SelectedPlayer() = %v, want masgo_own", got)
	}
}

func TestAutoSelectPrefersPlayingPlayer(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "attic", DisplayName: "Attic", Available: true},
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true, State: api.StatePlaying},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "kitchen" {
		t.Fatalf("SelectedPlayer() = %v, want kitchen", got)
	}
}

func TestAutoSelectFallsBackToFirstAvailable(t *testing.T) {
	// The own player sorts first but is unavailable, so the first
	// available remote wins.
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "masgo_own", DisplayName: "A Device", Provider: directory.BuiltinProviderTag, Available: false},
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "kitchen" {
		t.Fatalf("SelectedPlayer() = %v, want kitchen", got)
	}
}

func TestAutoSelectLastResortTakesFirstEntry(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "masgo_own", DisplayName: "This Device", Provider: directory.BuiltinProviderTag, Available: false},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "masgo_own" {
		t.Fatalf("SelectedPlayer() = %v, want masgo_own", got)
	}
}

func TestAutoSelectEmptyDirectory(t *testing.T) {
	ctrl := newTestController(t, &fakeLister{}, "masgo_own")

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	if got := ctrl.SelectedPlayer(); got != nil {
		t.Fatalf("SelectedPlayer() = %v, want nil", got)
	}
}

func TestRefreshKeepsSelectionWhenStillPresent(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "attic", DisplayName: "Attic", Available: true},
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	ctrl.SelectPlayer(api.Player{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true})

	// Attribute churn on other players must not move the selection.
	lister.players = []api.Player{
		{PlayerID: "attic", DisplayName: "Attic", Available: true, State: api.StatePlaying},
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true, VolumeLevel: 40},
	}

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "kitchen" {
		t.Fatalf("SelectedPlayer() = %v, want kitchen", got)
	}
	if got.VolumeLevel != 40 {
		t.Fatalf("SelectedPlayer() volume = %d, want refreshed 40", got.VolumeLevel)
	}
}

func TestRefreshReplacesVanishedSelection(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "attic", DisplayName: "Attic", Available: true},
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	ctrl.SelectPlayer(api.Player{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true})

	lister.players = []api.Player{
		{PlayerID: "attic", DisplayName: "Attic", Available: true},
	}

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}

	got := ctrl.SelectedPlayer()
	if got == nil || got.PlayerID != "attic" {
		t.Fatalf("SelectedPlayer() = %v, want attic after kitchen vanished", got)
	}
}

func TestSelectPlayerPersistsLastSelected(t *testing.T) {
	ctrl := newTestController(t, &fakeLister{}, "masgo_own")

	ctrl.SelectPlayer(api.Player{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true})

	if got := ctrl.Store.LastSelectedPlayer(); got != "kitchen" {
		t.Fatalf("LastSelectedPlayer() = %q, want %q", got, "kitchen")
	}
}

func TestTrackCacheRoundTrip(t *testing.T) {
	ctrl := newTestController(t, &fakeLister{}, "masgo_own")

	track := &api.Track{URI: "library://track/1", Name: "Bron-Yr-Aur"}
	ctrl.SetCachedTrack("kitchen", track)

	if got := ctrl.CurrentTrack("kitchen"); got == nil || got.URI != track.URI {
		t.Fatalf("CurrentTrack(kitchen) = %v, want %v", got, track)
	}

	ctrl.SetCachedTrack("kitchen", nil)
	if got := ctrl.CurrentTrack("kitchen"); got != nil {
		t.Fatalf("CurrentTrack(kitchen) = %v, want nil after clear", got)
	}
}

func TestOnChangeFiresOnSelectionChange(t *testing.T) {
	lister := &fakeLister{players: []api.Player{
		{PlayerID: "kitchen", DisplayName: "Kitchen", Available: true},
	}}
	ctrl := newTestController(t, lister, "masgo_own")

	fired := 0
	ctrl.OnChange = func() { fired++ }

	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}
	if fired != 1 {
		t.Fatalf("OnChange fired %d times, want 1", fired)
	}

	// Nothing changed, no notification.
	if _, err := ctrl.RefreshDirectory(context.Background(), true); err != nil {
		t.Fatalf("RefreshDirectory() err = %v, want nil", err)
	}
	if fired != 1 {
		t.Fatalf("OnChange fired %d times after no-op refresh, want 1", fired)
	}
}

func TestTrackWorthShowing(t *testing.T) {
	tests := []struct {
		name   string
		player *api.Player
		want   bool
	}{
		{"nil player", nil, false},
		{"unavailable", &api.Player{State: api.StatePlaying}, false},
		{"playing", &api.Player{Available: true, State: api.StatePlaying}, true},
		{"paused", &api.Player{Available: true, State: api.StatePaused}, true},
		{"idle powered", &api.Player{Available: true, Powered: true, State: api.StateIdle}, true},
		{"idle unpowered", &api.Player{Available: true, State: api.StateIdle}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trackWorthShowing(tt.player); got != tt.want {
				t.Fatalf("trackWorthShowing() = %v, want %v", got, tt.want)
			}
		})
	}
}
