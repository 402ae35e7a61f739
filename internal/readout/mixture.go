package readout

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// MixtureOptions controls the expectation-maximisation fit used by
// AutoRotate.
type MixtureOptions struct {
	Seed      uint64
	MaxIter   int
	Tolerance float64 // stop when the mean log-likelihood gains less than this
	RegCovar  float64 // added to covariance diagonals
}

// DefaultMixtureOptions returns the options used when nothing is configured.
func DefaultMixtureOptions() MixtureOptions {
	return MixtureOptions{Seed: 1, MaxIter: 100, Tolerance: 1e-6, RegCovar: 1e-6}
}

func (o MixtureOptions) withDefaults() MixtureOptions {
	d := DefaultMixtureOptions()
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.RegCovar <= 0 {
		o.RegCovar = d.RegCovar
	}
	return o
}

// Mixture is a fitted Gaussian mixture in the IQ plane.
type Mixture struct {
	Weights     []float64
	Means       [][2]float64
	Covariances []Covariance
	// Assignments holds the most likely component of every fitted point.
	Assignments   []int
	LogLikelihood float64 // mean per point
	Iterations    int
	Converged     bool
}

// FitMixture fits a k-component full-covariance Gaussian mixture to points.
// Seeding is k-means++ from a PCG stream, so equal inputs and options give
// equal fits.
func FitMixture(points [][2]float64, k int, opts MixtureOptions) (*Mixture, error) {
	n := len(points)
	if k < 1 {
		return nil, fmt.Errorf("mixture needs at least one component, got %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("mixture with %d components needs at least %d points, got %d", k, k, n)
	}
	opts = opts.withDefaults()
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	is := make([]float64, n)
	qs := make([]float64, n)
	for idx, p := range points {
		is[idx], qs[idx] = p[0], p[1]
	}

	m := &Mixture{
		Weights:     make([]float64, k),
		Means:       seedMeans(points, k, rng),
		Covariances: make([]Covariance, k),
		Assignments: make([]int, n),
	}
	global := weightedCovariance(is, qs, nil, stat.Mean(is, nil), stat.Mean(qs, nil), opts.RegCovar)
	for j := 0; j < k; j++ {
		m.Weights[j] = 1 / float64(k)
		m.Covariances[j] = global
	}

	resp := make([][]float64, k)
	for j := range resp {
		resp[j] = make([]float64, n)
	}
	prev := math.Inf(-1)

	for iter := 0; iter < opts.MaxIter; iter++ {
		ll, err := m.expect(is, qs, resp)
		if err != nil {
			return nil, fmt.Errorf("%w at iteration %d", err, iter)
		}
		m.LogLikelihood = ll
		m.Iterations = iter + 1
		if ll-prev < opts.Tolerance {
			m.Converged = true
			break
		}
		prev = ll

		// M-step.
		for j := 0; j < k; j++ {
			nk := floats.Sum(resp[j]) + 10*math.SmallestNonzeroFloat64
			m.Weights[j] = nk / float64(n)
			mi := stat.Mean(is, resp[j])
			mq := stat.Mean(qs, resp[j])
			if math.IsNaN(mi) || math.IsNaN(mq) {
				// Empty component: leave it where it was.
				continue
			}
			m.Means[j] = [2]float64{mi, mq}
			m.Covariances[j] = weightedCovariance(is, qs, resp[j], mi, mq, opts.RegCovar)
		}
	}
	if !m.Converged {
		// The last M-step moved the parameters; realign assignments with them.
		ll, err := m.expect(is, qs, resp)
		if err != nil {
			return nil, fmt.Errorf("%w after %d iterations", err, m.Iterations)
		}
		m.LogLikelihood = ll
	}
	return m, nil
}

// expect runs an E-step under the current parameters: it fills resp with
// posterior responsibilities, sets Assignments to the most likely component
// and returns the mean log-likelihood.
func (m *Mixture) expect(is, qs []float64, resp [][]float64) (float64, error) {
	k := len(m.Means)
	normals := make([]*distmv.Normal, k)
	for j := 0; j < k; j++ {
		nrm, ok := distmv.NewNormal(m.Means[j][:], m.Covariances[j].SymDense(), nil)
		if !ok {
			return 0, fmt.Errorf("mixture component %d collapsed", j)
		}
		normals[j] = nrm
	}
	logp := make([]float64, k)
	x := make([]float64, 2)
	var total float64
	for idx := range is {
		x[0], x[1] = is[idx], qs[idx]
		for j := 0; j < k; j++ {
			logp[j] = math.Log(m.Weights[j]) + normals[j].LogProb(x)
		}
		lse := floats.LogSumExp(logp)
		total += lse
		for j := 0; j < k; j++ {
			resp[j][idx] = math.Exp(logp[j] - lse)
		}
		m.Assignments[idx] = floats.MaxIdx(logp)
	}
	return total / float64(len(is)), nil
}

// seedMeans picks k initial means with k-means++ D² sampling.
func seedMeans(points [][2]float64, k int, rng *rand.Rand) [][2]float64 {
	n := len(points)
	means := make([][2]float64, 0, k)
	means = append(means, points[rng.IntN(n)])

	d2 := make([]float64, n)
	for len(means) < k {
		var total float64
		for idx, p := range points {
			best := math.Inf(1)
			for _, c := range means {
				di, dq := p[0]-c[0], p[1]-c[1]
				best = math.Min(best, di*di+dq*dq)
			}
			d2[idx] = best
			total += best
		}
		if total == 0 {
			means = append(means, points[rng.IntN(n)])
			continue
		}
		target := rng.Float64() * total
		pick := n - 1
		var acc float64
		for idx, w := range d2 {
			acc += w
			if acc >= target {
				pick = idx
				break
			}
		}
		means = append(means, points[pick])
	}
	return means
}

// weightedCovariance returns the 2×2 covariance of (is, qs) around (mi, mq)
// normalised by the weight sum, plus reg on the diagonal. nil weights count
// every point once.
func weightedCovariance(is, qs, w []float64, mi, mq, reg float64) Covariance {
	var sii, siq, sqq, sw float64
	for idx := range is {
		wt := 1.0
		if w != nil {
			wt = w[idx]
		}
		di, dq := is[idx]-mi, qs[idx]-mq
		sii += wt * di * di
		siq += wt * di * dq
		sqq += wt * dq * dq
		sw += wt
	}
	if sw == 0 {
		return IsotropicCovariance(reg)
	}
	return Covariance{II: sii/sw + reg, IQ: siq / sw, QQ: sqq/sw + reg}
}
