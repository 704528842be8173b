// Package haar detects frontal faces with an OpenCV Haar cascade.
package haar

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"faceattend/internal/face"
)

const cascadeFile = "haarcascade_frontalface_default.xml"

var fallbackPaths = []string{
	cascadeFile,
	"/usr/local/share/opencv4/haarcascades/" + cascadeFile,
	"/usr/share/opencv4/haarcascades/" + cascadeFile,
	"/opt/homebrew/share/opencv4/haarcascades/" + cascadeFile,
}

// Detector wraps a cascade classifier. The classifier is not safe for
// concurrent use, so calls are serialised.
type Detector struct {
	mu           sync.Mutex
	cascade      gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
}

// New loads the cascade at path, falling back to the usual install locations.
func New(path string) (*Detector, error) {
	cascade := gocv.NewCascadeClassifier()
	candidates := fallbackPaths
	if path != "" {
		candidates = append([]string{path}, fallbackPaths...)
	}
	for _, p := range candidates {
		if cascade.Load(p) {
			return &Detector{
				cascade:      cascade,
				scaleFactor:  face.DefaultScaleFactor,
				minNeighbors: face.DefaultMinNeighbors,
			}, nil
		}
	}
	cascade.Close()
	return nil, fmt.Errorf("load face cascade from %q or default locations", path)
}

// Detect returns the face boxes found in gray.
func (d *Detector) Detect(ctx context.Context, gray *image.Gray) ([]image.Rectangle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("convert image: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.DetectMultiScaleWithParams(mat, d.scaleFactor, d.minNeighbors, 0, image.Point{}, image.Point{}), nil
}

// Close releases the classifier.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.Close()
}
