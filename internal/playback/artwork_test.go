package playback

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func pngBytes(t *testing.T, c color.RGBA) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() err = %v, want nil", err)
	}
	return buf.Bytes()
}

func TestFetchArtwork(t *testing.T) {
	want := pngBytes(t, color.RGBA{R: 200, G: 40, B: 40, A: 255})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrong content type on purpose; sniffing must win.
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write(want)
	}))
	defer srv.Close()

	data, mime, err := FetchArtwork(srv.URL)
	if err != nil {
		t.Fatalf("FetchArtwork() err = %v, want nil", err)
	}
	if mime != "image/png" {
		t.Fatalf("FetchArtwork() mime = %q, want image/png", mime)
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("FetchArtwork() returned %d bytes, want %d", len(data), len(want))
	}
}

func TestFetchArtworkRejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("<html>not found</html>"))
	}))
	defer srv.Close()

	_, _, err := FetchArtwork(srv.URL)
	if !errors.Is(err, ErrNotAnImage) {
		t.Fatalf("FetchArtwork() err = %v, want %v", err, ErrNotAnImage)
	}
}

func TestFetchArtworkNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, _, err := FetchArtwork(srv.URL)
	if err == nil {
		t.Fatalf("FetchArtwork() err = nil, want status error")
	}
}
