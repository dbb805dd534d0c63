// Package domain holds course enrollment as reported by the learning
// management system.
package domain

import (
	"context"
	"time"
)

// Enrollment is one course a learner is enrolled in.
type Enrollment struct {
	CourseID    string
	Progress    float64
	CompletedAt *time.Time
}

// BatchResult answers a batch access check. Access has an entry for every
// requested course; Progress only for enrolled ones.
type BatchResult struct {
	Access   map[string]bool
	Progress map[string]float64
	// Degraded is set when the LMS could not be reached and some answers
	// come from stale cache or default to false.
	Degraded bool
}

// NewBatchResult returns a result with every course denied.
func NewBatchResult(courseIDs []string) BatchResult {
	res := BatchResult{
		Access:   make(map[string]bool, len(courseIDs)),
		Progress: make(map[string]float64),
	}
	for _, id := range courseIDs {
		res.Access[id] = false
	}
	return res
}

// Directory queries the LMS. Learners are correlated by email. Courses the
// learner is not enrolled in are absent from the result.
type Directory interface {
	Enrollments(ctx context.Context, email string, courseIDs []string) ([]Enrollment, error)
}
