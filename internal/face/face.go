// Package face turns a captured photo into a fixed-size feature vector and
// matches it against enrolled templates.
//
// The feature vector is the 100x100 grayscale crop of the single detected
// face, flattened row by row. Similarity is the mean squared difference of
// the raw intensities; lower is closer.
package face

import (
	"errors"
	"fmt"
)

const (
	// SampleSize is the edge length of the square face sample.
	SampleSize = 100
	// VectorLen is the number of intensities in a feature vector.
	VectorLen = SampleSize * SampleSize

	// DefaultScaleFactor and DefaultMinNeighbors configure the frontal face cascade.
	DefaultScaleFactor  = 1.3
	DefaultMinNeighbors = 5

	// DefaultThreshold is the mean squared difference below which two samples match.
	DefaultThreshold = 3000.0

	// DefaultMaxPixels bounds the decoded size of an input image.
	DefaultMaxPixels = 24_000_000
)

var (
	// ErrDecode reports input bytes that are not a decodable image.
	ErrDecode = errors.New("image could not be decoded")
	// ErrTooLarge reports an image whose header declares more pixels than allowed.
	ErrTooLarge = fmt.Errorf("%w: image dimensions too large", ErrDecode)
	// ErrNoFace reports that the detector found no face.
	ErrNoFace = errors.New("no face detected")
	// ErrMultipleFaces reports more than one candidate face.
	ErrMultipleFaces = errors.New("multiple faces detected")
	// ErrNoMatch reports that no template scored under the threshold.
	ErrNoMatch = errors.New("face not recognized")
	// ErrVectorLength reports vectors of unequal or zero length.
	ErrVectorLength = errors.New("feature vectors differ in length")
)

// Vector is a flattened grayscale face sample. Every element is in [0,255].
type Vector []byte

// Template is the stored vector of one enrolled student.
type Template struct {
	StudentID string `json:"student_id"`
	Vector    Vector `json:"vector"`
}

// Match is the outcome of a successful identification.
type Match struct {
	StudentID string  `json:"student_id"`
	Score     float64 `json:"score"`
}
