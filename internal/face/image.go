package face

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Decode parses raw image bytes in any registered format, refusing images
// larger than DefaultMaxPixels.
func Decode(data []byte) (image.Image, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with a pixel budget. The header is checked before any
// pixel buffer is allocated. A non-positive maxPixels means DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, maxPixels)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrDecode)
	}
	return img, nil
}

// DecodeDataURL returns the payload of a base64 data URL such as
// "data:image/jpeg;base64,...". Bare base64 is accepted as well.
func DecodeDataURL(s string) ([]byte, error) {
	payload := strings.TrimSpace(s)
	if strings.HasPrefix(payload, "data:") {
		_, after, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, fmt.Errorf("%w: data url without payload", ErrDecode)
		}
		payload = after
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// Some browsers emit unpadded payloads.
		if raw, rerr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rerr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return data, nil
}

// Grayscale converts img to a single channel using the ITU-R 601 luma weights.
// The result always starts at the origin and has stride equal to its width.
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Sample crops box out of gray and scales it to SampleSize x SampleSize.
func Sample(gray *image.Gray, box image.Rectangle) (Vector, error) {
	box = box.Intersect(gray.Bounds())
	if box.Empty() {
		return nil, ErrNoFace
	}
	dst := image.NewGray(image.Rect(0, 0, SampleSize, SampleSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), gray, box, draw.Src, nil)

	vec := make(Vector, VectorLen)
	for y := 0; y < SampleSize; y++ {
		copy(vec[y*SampleSize:(y+1)*SampleSize], dst.Pix[y*dst.Stride:y*dst.Stride+SampleSize])
	}
	return vec, nil
}
