package face

import (
	"context"
	"fmt"
	"image"
)

// Detector finds candidate face boxes in a grayscale image.
type Detector interface {
	Detect(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error)
}

// Matcher extracts feature vectors with a Detector and ranks them against templates.
type Matcher struct {
	detector  Detector
	threshold float64
	maxPixels int
}

// NewMatcher creates a matcher. A non-positive threshold falls back to DefaultThreshold.
func NewMatcher(detector Detector, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{detector: detector, threshold: threshold}
}

// WithMaxPixels sets the decode budget used by ExtractBytes and returns m.
// A non-positive n keeps DefaultMaxPixels.
func (m *Matcher) WithMaxPixels(n int) *Matcher {
	m.maxPixels = n
	return m
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Extract detects exactly one face in img and returns its feature vector.
func (m *Matcher) Extract(ctx context.Context, img image.Image) (Vector, error) {
	gray := Grayscale(img)
	boxes, err := m.detector.Detect(ctx, gray)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}
	switch n := len(boxes); {
	case n == 0:
		return nil, ErrNoFace
	case n > 1:
		return nil, fmt.Errorf("%w: found %d", ErrMultipleFaces, n)
	}
	return Sample(gray, boxes[0])
}

// ExtractBytes decodes data and extracts its feature vector.
func (m *Matcher) ExtractBytes(ctx context.Context, data []byte) (Vector, error) {
	img, err := DecodeLimit(data, m.maxPixels)
	if err != nil {
		return nil, err
	}
	return m.Extract(ctx, img)
}

// Compare reports whether the two vectors match under the configured threshold.
func (m *Matcher) Compare(candidate, stored Vector) bool {
	return Compare(candidate, stored, m.threshold)
}

// Identify ranks candidate against templates under the configured threshold.
func (m *Matcher) Identify(candidate Vector, templates []Template) (Match, error) {
	return Identify(candidate, templates, m.threshold)
}
