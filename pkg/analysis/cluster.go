package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Merge is one row of a linkage matrix. Clusters 0..n-1 are the reporter
// channels, the cluster created by merge i has id n+i.
type Merge struct {
	Left, Right int
	Distance    float64
	Size        int
}

// WardLinkage clusters the reporter channels of a protein intensity matrix
// agglomeratively with Ward's minimum variance criterion.
func WardLinkage(intensities mat.Matrix) ([]Merge, error) {
	obs := Impute(intensities)
	n, _ := obs.Dims()
	if n < 2 {
		return nil, fmt.Errorf("clustering needs at least two channels, got %d", n)
	}

	// dist is indexed by active cluster id.
	dist := make(map[int]map[int]float64, 2*n)
	size := make(map[int]int, 2*n)
	active := make([]int, 0, n)
	for i := 0; i < n; i++ {
		dist[i] = make(map[int]float64)
		size[i] = 1
		active = append(active, i)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(obs.RawRowView(i), obs.RawRowView(j), 2)
			dist[i][j], dist[j][i] = d, d
		}
	}

	merges := make([]Merge, 0, n-1)
	for next := n; len(active) > 1; next++ {
		bi, bj, best := -1, -1, math.Inf(1)
		for x := 0; x < len(active); x++ {
			for y := x + 1; y < len(active); y++ {
				if d := dist[active[x]][active[y]]; d < best {
					bi, bj, best = x, y, d
				}
			}
		}
		a, b := active[bi], active[bj]
		if a > b {
			a, b = b, a
		}

		na, nb := float64(size[a]), float64(size[b])
		dist[next] = make(map[int]float64)
		for _, k := range active {
			if k == a || k == b {
				continue
			}
			nk := float64(size[k])
			dak, dbk := dist[a][k], dist[b][k]
			d := math.Sqrt(((na+nk)*dak*dak + (nb+nk)*dbk*dbk - nk*best*best) / (na + nb + nk))
			dist[next][k], dist[k][next] = d, d
			delete(dist[k], a)
			delete(dist[k], b)
		}
		delete(dist, a)
		delete(dist, b)
		size[next] = size[a] + size[b]
		merges = append(merges, Merge{Left: a, Right: b, Distance: best, Size: size[next]})

		kept := active[:0]
		for _, k := range active {
			if k != a && k != b {
				kept = append(kept, k)
			}
		}
		active = append(kept, next)
	}
	return merges, nil
}
