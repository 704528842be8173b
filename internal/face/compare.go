package face

import "math"

// MeanSquaredDiff returns the average squared per-element difference.
func MeanSquaredDiff(a, b Vector) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrVectorLength
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum / float64(len(a)), nil
}

// Compare reports whether candidate is closer to stored than threshold.
// Vectors of different length never match.
func Compare(candidate, stored Vector, threshold float64) bool {
	score, err := MeanSquaredDiff(candidate, stored)
	if err != nil {
		return false
	}
	return score < threshold
}

// Identify scans templates in order and returns the lowest scoring one under
// threshold. Ties keep the first template seen.
func Identify(candidate Vector, templates []Template, threshold float64) (Match, error) {
	best := Match{Score: math.Inf(1)}
	found := false
	for _, tpl := range templates {
		score, err := MeanSquaredDiff(candidate, tpl.Vector)
		if err != nil || score >= threshold {
			continue
		}
		if score < best.Score {
			best = Match{StudentID: tpl.StudentID, Score: score}
			found = true
		}
	}
	if !found {
		return Match{}, ErrNoMatch
	}
	return best, nil
}
