package segmentation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/marketing-analyst/internal/pkg/distlock"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
)

// Engine runs the segmentation job.
type Engine struct {
	store  *Store
	lock   distlock.DistLock
	params Params
}

// NewEngine creates an engine. lock may be nil for single-process use.
func NewEngine(store *Store, lock distlock.DistLock, params Params) *Engine {
	return &Engine{store: store, lock: lock, params: params}
}

// Prepare turns raw rows into customers: purchase_frequency is the number
// of transactions per email (0 when none), and missing p1 or member_rating
// take the column mean.
func Prepare(in *Input) []Customer {
	freq := make(map[string]int)
	for _, e := range in.Transactions {
		freq[e]++
	}

	var p1Sum, ratingSum float64
	var p1N, ratingN int
	for _, l := range in.Leads {
		if l.P1.Valid {
			p1Sum += l.P1.Float64
			p1N++
		}
		if l.MemberRating.Valid {
			ratingSum += l.MemberRating.Float64
			ratingN++
		}
	}
	p1Mean, ratingMean := 0.0, 0.0
	if p1N > 0 {
		p1Mean = p1Sum / float64(p1N)
	}
	if ratingN > 0 {
		ratingMean = ratingSum / float64(ratingN)
	}

	out := make([]Customer, 0, len(in.Leads))
	for _, l := range in.Leads {
		c := Customer{
			UserEmail:         l.UserEmail,
			P1:                p1Mean,
			MemberRating:      ratingMean,
			PurchaseFrequency: float64(freq[l.UserEmail]),
		}
		if l.P1.Valid {
			c.P1 = l.P1.Float64
		}
		if l.MemberRating.Valid {
			c.MemberRating = l.MemberRating.Float64
		}
		out = append(out, c)
	}
	return out
}

// Segment clusters customers in place and returns the clustering.
func Segment(customers []Customer, p Params) (*Clustering, error) {
	x := make([][]float64, len(customers))
	for i, c := range customers {
		x[i] = []float64{c.PurchaseFrequency, c.P1, c.MemberRating}
	}
	cl, err := KMeans(Standardize(x), p)
	if err != nil {
		return nil, err
	}
	for i := range customers {
		customers[i].Segment = cl.Labels[i]
	}
	return cl, nil
}

// Run reads the store, clusters every customer and writes the segments
// back. Only one run may hold the lock at a time.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()
	runID := uuid.New()

	if e.lock != nil {
		ok, err := e.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return nil, ErrLocked
		}
		defer func() {
			if err := e.lock.Release(context.Background()); err != nil {
				logger.Warn("Failed to release segmentation lock", "run_id", runID, "error", err)
			}
		}()
	}

	logger.Info("Starting customer segmentation", "run_id", runID, "clusters", e.params.Clusters)
	in, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	customers := Prepare(in)
	cl, err := Segment(customers, e.params)
	if err != nil {
		return nil, fmt.Errorf("segment %d customers: %w", len(customers), err)
	}
	if err := e.store.Replace(ctx, customers); err != nil {
		return nil, fmt.Errorf("update database: %w", err)
	}

	sizes := make([]int, e.params.Clusters)
	for _, l := range cl.Labels {
		sizes[l]++
	}
	res := &Result{
		RunID:        runID,
		Customers:    len(customers),
		Clusters:     e.params.Clusters,
		Inertia:      cl.Inertia,
		SegmentSizes: sizes,
		CalculatedAt: time.Now(),
		DurationMs:   time.Since(startTime).Milliseconds(),
	}
	logger.Info("Customers segmented successfully", "run_id", runID, "customers", res.Customers, "sizes", sizes, "duration_ms", res.DurationMs)
	return res, nil
}
