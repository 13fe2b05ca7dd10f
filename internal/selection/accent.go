package selection

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/nfnt/resize"

	"masgo.app/masgo/internal/playback"
)

// accentSampleSize is the square the artwork is shrunk to before
// sampling. Accuracy past this point does not survive being a UI tint.
const accentSampleSize = 64

// AccentColor derives a representative tint from artwork bytes. The
// image is downscaled, then the most saturated reasonably-bright pixel
// cluster wins; a flat average washes out to gray on most covers.
func AccentColor(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("AccentColor decode error: %w", err)
	}

	small := resize.Thumbnail(accentSampleSize, accentSampleSize, img, resize.Bilinear)
	bounds := small.Bounds()

	var best colorful.Color
	bestScore := -1.0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			col, ok := colorful.MakeColor(small.At(x, y))
			if !ok {
				continue
			}

			_, s, v := col.Hsv()

			// Penalize near-black and near-white pixels; they dominate
			// letterboxed and text-heavy covers.
			score := s * (1 - abs(v-0.6))
			if score > bestScore {
				bestScore = score
				best = col
			}
		}
	}

	if bestScore < 0 {
		return "", fmt.Errorf("AccentColor: no usable pixels")
	}

	return best.Hex(), nil
}

// AccentFromURL fetches artwork and derives its accent color.
func AccentFromURL(url string) (string, error) {
	data, _, err := playback.FetchArtwork(url)
	if err != nil {
		return "", fmt.Errorf("AccentFromURL fetch error: %w", err)
	}
	return AccentColor(data)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
