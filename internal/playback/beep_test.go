package playback

import "testing"

func TestBeepBackendVolumeDefaultsToFull(t *testing.T) {
	b := &BeepBackend{}

	if got := b.Volume(); got != 1.0 {
		t.Fatalf("Volume() = %v, want 1.0", got)
	}
}

func TestBeepBackendSetVolumeZeroSticks(t *testing.T) {
	b := &BeepBackend{}

	if err := b.SetVolume(0); err != nil {
		t.Fatalf("SetVolume(0) error: %v", err)
	}
	if got := b.Volume(); got != 0 {
		t.Fatalf("Volume() after SetVolume(0) = %v, want 0", got)
	}

	if err := b.SetVolume(0.3); err != nil {
		t.Fatalf("SetVolume(0.3) error: %v", err)
	}
	if got := b.Volume(); got != 0.3 {
		t.Fatalf("Volume() after SetVolume(0.3) = %v, want 0.3", got)
	}
}
