// Package segmentation assigns every customer in leads_scored to one of a
// fixed number of behavioral segments with k-means clustering and writes the
// segments back to the backing store.
package segmentation

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/marketing-analyst/internal/config"
)

var (
	// ErrLocked is returned when another run holds the segmentation lock.
	ErrLocked = errors.New("segmentation already running")
	// ErrTooFewCustomers is returned when there are fewer customers than
	// clusters.
	ErrTooFewCustomers = errors.New("fewer customers than clusters")
)

// Features, in the column order used for clustering.
var Features = []string{"purchase_frequency", "p1", "member_rating"}

// Customer is one row written back to leads_scored.
type Customer struct {
	UserEmail         string
	P1                float64
	MemberRating      float64
	PurchaseFrequency float64
	Segment           int
}

// Params control the clustering.
type Params struct {
	Clusters      int
	Seed          int64
	Restarts      int
	MaxIterations int
}

// DefaultParams are five clusters, seed 42, ten restarts, 300 iterations.
func DefaultParams() Params {
	return Params{Clusters: 5, Seed: 42, Restarts: 10, MaxIterations: 300}
}

// Result describes one completed run.
type Result struct {
	RunID        uuid.UUID `json:"run_id"`
	Customers    int       `json:"customers"`
	Clusters     int       `json:"clusters"`
	Inertia      float64   `json:"inertia"`
	SegmentSizes []int     `json:"segment_sizes"`
	CalculatedAt time.Time `json:"calculated_at"`
	DurationMs   int64     `json:"duration_ms"`
}

// ParamsFromConfig maps the job settings onto clustering parameters.
func ParamsFromConfig(cfg config.SegmentationConfig) Params {
	p := DefaultParams()
	if cfg.Clusters > 0 {
		p.Clusters = cfg.Clusters
	}
	if cfg.Seed != 0 {
		p.Seed = cfg.Seed
	}
	if cfg.Restarts > 0 {
		p.Restarts = cfg.Restarts
	}
	if cfg.MaxIterations > 0 {
		p.MaxIterations = cfg.MaxIterations
	}
	return p
}
