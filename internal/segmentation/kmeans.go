package segmentation

import (
	"math"
	"math/rand"
)

// Standardize scales each column to zero mean and unit population standard
// deviation. Constant columns become all zeros.
func Standardize(x [][]float64) [][]float64 {
	if len(x) == 0 {
		return nil
	}
	dims := len(x[0])
	mean := make([]float64, dims)
	std := make([]float64, dims)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
	}

	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = make([]float64, dims)
		for j, v := range row {
			if std[j] == 0 {
				continue
			}
			out[i][j] = (v - mean[j]) / std[j]
		}
	}
	return out
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

// Clustering is the best k-means solution found.
type Clustering struct {
	Labels  []int
	Centers [][]float64
	Inertia float64
}

// KMeans clusters x with k-means++ seeding, keeping the lowest-inertia
// solution over p.Restarts runs. Results depend only on x and p.
func KMeans(x [][]float64, p Params) (*Clustering, error) {
	if p.Clusters <= 0 || len(x) < p.Clusters {
		return nil, ErrTooFewCustomers
	}
	restarts := max(p.Restarts, 1)
	rng := rand.New(rand.NewSource(p.Seed))

	var best *Clustering
	for r := 0; r < restarts; r++ {
		c := lloyd(x, seedCenters(x, p.Clusters, rng), p.MaxIterations)
		if best == nil || c.Inertia < best.Inertia {
			best = c
		}
	}
	return best, nil
}

// seedCenters picks initial centers with k-means++: each next center is
// drawn with probability proportional to its squared distance from the
// nearest center already chosen.
func seedCenters(x [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(x[rng.Intn(len(x))]))

	dist := make([]float64, len(x))
	for i := range x {
		dist[i] = sqDist(x[i], centers[0])
	}
	for len(centers) < k {
		var total float64
		for _, d := range dist {
			total += d
		}
		next := 0
		if total > 0 {
			target := rng.Float64() * total
			for i, d := range dist {
				target -= d
				if target < 0 {
					next = i
					break
				}
				next = i
			}
		} else {
			next = rng.Intn(len(x))
		}
		c := clone(x[next])
		centers = append(centers, c)
		for i := range x {
			if d := sqDist(x[i], c); d < dist[i] {
				dist[i] = d
			}
		}
	}
	return centers
}

func lloyd(x [][]float64, centers [][]float64, maxIter int) *Clustering {
	k := len(centers)
	dims := len(x[0])
	labels := make([]int, len(x))
	for i := range labels {
		labels[i] = -1
	}
	if maxIter <= 0 {
		maxIter = 300
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := assign(x, centers, labels)
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, row := range x {
			c := labels[i]
			counts[c]++
			for j, v := range row {
				sums[c][j] += v
			}
		}
		for c := range centers {
			if counts[c] == 0 {
				// An empty cluster takes the point farthest from its center.
				far := farthest(x, centers, labels)
				centers[c] = clone(x[far])
				labels[far] = c
				continue
			}
			for j := range centers[c] {
				centers[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	assign(x, centers, labels)
	var inertia float64
	for i, row := range x {
		inertia += sqDist(row, centers[labels[i]])
	}
	return &Clustering{Labels: labels, Centers: centers, Inertia: inertia}
}

// assign moves every point to its nearest center and reports whether any
// label changed. Ties go to the lower center index.
func assign(x [][]float64, centers [][]float64, labels []int) bool {
	changed := false
	for i, row := range x {
		best, bestD := 0, math.Inf(1)
		for c, center := range centers {
			if d := sqDist(row, center); d < bestD {
				best, bestD = c, d
			}
		}
		if labels[i] != best {
			labels[i] = best
			changed = true
		}
	}
	return changed
}

func farthest(x [][]float64, centers [][]float64, labels []int) int {
	idx, far := 0, -1.0
	for i, row := range x {
		if d := sqDist(row, centers[labels[i]]); d > far {
			idx, far = i, d
		}
	}
	return idx
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
