package playback

import (
	"fmt"
	"io"
	"net/http"

	"github.com/h2non/filetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

// maxArtworkBytes caps how much we pull for a notification icon.
const maxArtworkBytes = 5 << 20

var ErrNotAnImage = errors.New("artwork: fetched data is not an image")

// FetchArtwork downloads artwork for the notification surface and
// returns the raw bytes plus the sniffed MIME type. Transport servers
// occasionally hand back HTML error pages with a 200, so the content
// is sniffed rather than trusting the response headers.
func FetchArtwork(url string) ([]byte, string, error) {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil
	client := retryClient.StandardClient()

	resp, err := client.Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("FetchArtwork GET error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("FetchArtwork unexpected status: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtworkBytes))
	if err != nil {
		return nil, "", fmt.Errorf("FetchArtwork read error: %w", err)
	}

	kind, err := filetype.Image(data)
	if err != nil {
		return nil, "", ErrNotAnImage
	}

	return data, kind.MIME.Value, nil
}
