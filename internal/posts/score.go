package posts

import (
	"math"
	"time"
)

// Ranking combines vote magnitude, age, and discussion activity into a
// single sortable score. Higher is hotter.
//
// The vote term is logarithmic: the first ten votes matter as much as
// the next hundred. The age term is signed by vote direction, so
// positively-voted posts gain slowly with age while negatively-voted
// posts sink. Comments weigh in at half a point each.

const (
	ageDivisor    = 45000.0
	commentWeight = 0.5
	scoreRounding = 10000.0
)

// Score computes the ranking score for a post
func Score(voteCount, commentCount int, createdAt time.Time, now time.Time) float64 {
	order := math.Log10(math.Max(math.Abs(float64(voteCount)), 1))

	var sign float64
	switch {
	case voteCount > 0:
		sign = 1
	case voteCount < 0:
		sign = -1
	}

	ageInHours := now.Sub(createdAt).Hours()

	raw := order + sign*ageInHours/ageDivisor + float64(commentCount)*commentWeight
	return math.Round(raw*scoreRounding) / scoreRounding
}
