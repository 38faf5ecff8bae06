package extract

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-auth/internal/constants"
)

// DecodeConfig returns the dimensions of an encoded image without decoding pixels.
// Images declaring more than constants.MaxImagePixels are refused before any
// pixel buffer is allocated. Failures are *Error of KindDecodeFailure.
func DecodeConfig(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, newError(KindDecodeFailure, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, newError(KindDecodeFailure, fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height))
	}
	if int64(cfg.Width)*int64(cfg.Height) > constants.MaxImagePixels {
		return image.Config{}, newError(KindDecodeFailure,
			fmt.Errorf("image is %dx%d, larger than %d pixels", cfg.Width, cfg.Height, constants.MaxImagePixels))
	}
	return cfg, nil
}

// Downscale shrinks an image wider than maxWidth to exactly maxWidth, keeping the
// aspect ratio, and re-encodes it as JPEG. Narrower images and maxWidth <= 0
// return data unchanged.
func Downscale(data []byte, maxWidth int) ([]byte, error) {
	if maxWidth <= 0 {
		return data, nil
	}

	cfg, err := DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= maxWidth {
		return data, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, newError(KindDecodeFailure, err)
	}

	bounds := img.Bounds()
	newHeight := max(int(float64(bounds.Dy())*float64(maxWidth)/float64(bounds.Dx())), 1)

	resized := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode resized image: %w", err)
	}

	return buf.Bytes(), nil
}
