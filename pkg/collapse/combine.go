package collapse

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/guregu/null.v3"

	"github.com/ChrisMcGann/CONSTANdpp/pkg/core"
)

const (
	weiszfeldMaxIterations = 200
	weiszfeldTolerance     = 1e-9
)

// Combined is the merged intensity vector of a duplicate group.
type Combined struct {
	Intensities []float64
	// HighVarianceChannels lists the channels whose relative intensities vary
	// more than the configured threshold. Advisory only.
	HighVarianceChannels []int
}

// Combiner merges the reporter intensities of duplicate groups.
type Combiner struct {
	policy      Policy
	master      core.Algorithm
	maxVariance null.Float
	log         zerolog.Logger
}

// NewCombiner creates a combiner. An invalid maxVariance disables the
// variance check.
func NewCombiner(policy Policy, master core.Algorithm, maxVariance null.Float, log zerolog.Logger) *Combiner {
	return &Combiner{policy: policy, master: master, maxVariance: maxVariance, log: log}
}

// Combine merges rows into one vector. representative only keys the variance
// warning. Missing channel values are left out per channel; a channel missing
// in every row stays missing.
func (c *Combiner) Combine(rows []*core.Detection, representative int) (Combined, error) {
	if len(rows) == 0 {
		return Combined{}, fmt.Errorf("cannot combine an empty group")
	}
	n := len(rows[0].Intensities)
	for _, d := range rows[1:] {
		if len(d.Intensities) != n {
			return Combined{}, fmt.Errorf("row %d has %d channels, want %d", d.ID, len(d.Intensities), n)
		}
	}

	var merged []float64
	switch c.policy {
	case PolicyMean:
		merged = perChannel(rows, stat.Mean)
	case PolicyMedian:
		merged = perChannel(rows, median)
	case PolicyGeometricMedian:
		merged = geometricMedian(rows)
	case PolicyWeighted:
		var ok bool
		merged, ok = weighted(rows)
		if !ok {
			c.log.Warn().
				Int("representative", representative).
				Msg("precursor intensities missing, combining duplicates by mean instead of weighting")
			merged = perChannel(rows, stat.Mean)
		}
	case PolicyBestMatch:
		merged = append([]float64(nil), bestMatch(rows, c.master).Intensities...)
	case PolicyMostIntense:
		merged = append([]float64(nil), mostIntense(rows).Intensities...)
	default:
		return Combined{}, &core.ConfigError{Field: "policy", Message: fmt.Sprintf("invalid intensity combination policy '%s'", c.policy)}
	}

	res := Combined{Intensities: merged}
	if c.maxVariance.Valid {
		res.HighVarianceChannels = highVarianceChannels(rows, c.maxVariance.Float64)
		if len(res.HighVarianceChannels) > 0 {
			c.log.Warn().
				Int("representative", representative).
				Ints("channels", res.HighVarianceChannels).
				Float64("maxRelativeVariance", c.maxVariance.Float64).
				Msg("relative reporter variance too high for duplicate group")
		}
	}
	return res, nil
}

// perChannel applies center to the present values of every channel.
func perChannel(rows []*core.Detection, center func(x, weights []float64) float64) []float64 {
	n := len(rows[0].Intensities)
	out := make([]float64, n)
	vals := make([]float64, 0, len(rows))
	for ch := 0; ch < n; ch++ {
		vals = vals[:0]
		for _, d := range rows {
			if v := d.Intensities[ch]; !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			out[ch] = math.NaN()
			continue
		}
		out[ch] = center(vals, nil)
	}
	return out
}

// median returns the middle value, averaging the two middle values for even
// lengths. weights is ignored.
func median(x, _ []float64) float64 {
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

// weighted returns the precursor-intensity-weighted barycenter of the rows.
// ok is false when the precursor intensities cannot serve as weights.
func weighted(rows []*core.Detection) (out []float64, ok bool) {
	total := 0.0
	for _, d := range rows {
		if math.IsNaN(d.PrecursorIntensity) || d.PrecursorIntensity < 0 {
			return nil, false
		}
		total += d.PrecursorIntensity
	}
	if total <= 0 {
		return nil, false
	}

	n := len(rows[0].Intensities)
	out = make([]float64, n)
	for ch := 0; ch < n; ch++ {
		sum, wsum := 0.0, 0.0
		for _, d := range rows {
			v := d.Intensities[ch]
			if math.IsNaN(v) {
				continue
			}
			w := d.PrecursorIntensity / total
			sum += w * v
			wsum += w
		}
		if wsum == 0 {
			out[ch] = math.NaN()
			continue
		}
		out[ch] = sum / wsum
	}
	return out, true
}

// geometricMedian computes the multivariate geometric median of the complete
// rows with Weiszfeld's algorithm. Without complete rows it falls back to the
// channel-wise median.
func geometricMedian(rows []*core.Detection) []float64 {
	var points [][]float64
	for _, d := range rows {
		if !floats.HasNaN(d.Intensities) {
			points = append(points, d.Intensities)
		}
	}
	if len(points) == 0 {
		return perChannel(rows, median)
	}
	if len(points) == 1 {
		return append([]float64(nil), points[0]...)
	}

	n := len(points[0])
	y := make([]float64, n)
	for _, p := range points {
		floats.Add(y, p)
	}
	floats.Scale(1/float64(len(points)), y)

	next := make([]float64, n)
	for iter := 0; iter < weiszfeldMaxIterations; iter++ {
		for i := range next {
			next[i] = 0
		}
		wsum := 0.0
		for _, p := range points {
			dist := floats.Distance(p, y, 2)
			if dist < weiszfeldTolerance {
				// The estimate sits on a data point; it is the median.
				return append([]float64(nil), p...)
			}
			floats.AddScaled(next, 1/dist, p)
			wsum += 1 / dist
		}
		floats.Scale(1/wsum, next)
		moved := floats.Distance(next, y, 2)
		copy(y, next)
		if moved < weiszfeldTolerance {
			break
		}
	}
	return y
}

// bestMatch returns the row with the best PSM score, preferring rows of the
// master algorithm since scores of different engines are not comparable.
func bestMatch(rows []*core.Detection, master core.Algorithm) *core.Detection {
	pool := rows
	var masters []*core.Detection
	for _, d := range rows {
		if d.Algorithm == master {
			masters = append(masters, d)
		}
	}
	if len(masters) > 0 {
		pool = masters
	}
	best := pool[0]
	for _, d := range pool[1:] {
		if better(orMinusInf(d.Score()), orMinusInf(best.Score()), d, best) {
			best = d
		}
	}
	return best
}

// mostIntense returns the row with the highest total reporter intensity.
func mostIntense(rows []*core.Detection) *core.Detection {
	best := rows[0]
	for _, d := range rows[1:] {
		if better(d.TotalIntensity(), best.TotalIntensity(), d, best) {
			best = d
		}
	}
	return best
}

// better breaks ties on the first scan so the choice is order-independent.
func better(v, bestV float64, d, best *core.Detection) bool {
	if v != bestV {
		return v > bestV
	}
	if d.FirstScan != best.FirstScan {
		return d.FirstScan < best.FirstScan
	}
	return d.ID < best.ID
}

// highVarianceChannels returns the channels whose population variance of the
// relative intensities (each row divided by its own sum) exceeds threshold.
func highVarianceChannels(rows []*core.Detection, threshold float64) []int {
	var rel [][]float64
	for _, d := range rows {
		total := d.TotalIntensity()
		if total <= 0 {
			continue
		}
		r := make([]float64, len(d.Intensities))
		for i, v := range d.Intensities {
			r[i] = v / total
		}
		rel = append(rel, r)
	}
	if len(rel) < 2 {
		return nil
	}

	var flagged []int
	vals := make([]float64, 0, len(rel))
	for ch := range rel[0] {
		vals = vals[:0]
		for _, r := range rel {
			if !math.IsNaN(r[ch]) {
				vals = append(vals, r[ch])
			}
		}
		if len(vals) < 2 {
			continue
		}
		if stat.PopVariance(vals, nil) > threshold {
			flagged = append(flagged, ch)
		}
	}
	return flagged
}
