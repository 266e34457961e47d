// Package learner implements C8: fitting a load-profile expression's
// named-variable coefficients ("genes") from logged PartialExecutions
// via a genetic algorithm, per spec §4.8. Grounded in the teacher's
// StatisticsManager (internal/optimizer/statistics.go)'s sampling and
// bucketing approach to cost-model calibration, generalized from fixed
// selectivity histograms to an evolutionary search over an open-ended
// expression's free variables. Uses golang.org/x/sync/errgroup to run
// independent "tribes" (sub-populations) concurrently, rather than
// hand-rolling a WaitGroup-based fan-out.
package learner

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/namyoh/rheem/internal/cost"
	"github.com/namyoh/rheem/internal/executionlog"
)

// Options tunes the GA (spec §4.8's "profiler.ga.*" settings).
type Options struct {
	Generations     int
	Population      int
	EliteFraction   float64
	MutationRate    float64
	MutationSigma   float64
	Tribes          int
	Seed            int64
	ConfidenceMin   float64 // drop log records below this correctness probability
	SubsampleRatio  float64 // in (0,1]; 1 means use every surviving record
	NoiseDropMax    int     // post-convergence: drop up to this many worst-fit points and re-converge once
	Blocking        bool    // if true, seed each tribe from one shared per-group seed instead of Seed+tribeIndex
	Binning         float64 // logarithmic duration-bucket stretch factor for training-set dedup; <=1 disables binning
}

// DefaultOptions returns the spec's suggested GA defaults.
func DefaultOptions() Options {
	return Options{
		Generations:    200,
		Population:     64,
		EliteFraction:  0.2,
		MutationRate:   0.1,
		MutationSigma:  0.5,
		Tribes:         4,
		Seed:           1,
		ConfidenceMin:  0.5,
		SubsampleRatio: 1.0,
		NoiseDropMax:   0,
		Binning:        2.0,
	}
}

// Individual is one candidate gene assignment: variable name -> value.
type Individual map[string]float64

func (ind Individual) clone() Individual {
	out := make(Individual, len(ind))
	for k, v := range ind {
		out[k] = v
	}
	return out
}

// dataPoint is one (input cardinalities, measured duration) observation
// used to score a candidate gene assignment.
type dataPoint struct {
	symbols  map[string]float64
	actualMs float64
	platform string // the platform the record ran on, for the per-platform overhead gene
}

// Result is the fitted coefficients for one operator configuration key,
// ready to be written to a "rheem.<platform>.<op>.load" override.
type Result struct {
	OperatorKey string
	Genes       Individual
	Fitness     float64
	Samples     int
}

// Learner fits gene values for a set of cost.Expr expressions (one per
// resource dimension) against logged executions.
type Learner struct {
	opts Options
}

// New builds a Learner.
func New(opts Options) *Learner {
	if opts.Population <= 0 {
		opts = DefaultOptions()
	}
	return &Learner{opts: opts}
}

// FitFromLog reads every record in logPath, groups by OperatorKey, and
// fits each group's expr's variables independently, returning one
// Result per operator key that had surviving samples (spec §4.8).
func (l *Learner) FitFromLog(logPath string, exprsByKey map[string]*cost.Expr) ([]Result, error) {
	records, err := executionlog.ReadAll(logPath)
	if err != nil {
		return nil, err
	}
	groups := l.groupByOperatorKey(records)

	var results []Result
	for key, points := range groups {
		expr, ok := exprsByKey[key]
		if !ok || len(points) == 0 {
			continue
		}
		genes := expr.Variables()
		if len(genes) == 0 {
			continue // nothing to fit; expression has no free variables
		}
		res, err := l.fitOne(key, expr, genes, points)
		if err != nil {
			return nil, fmt.Errorf("learner.FitFromLog: operator %q: %w", key, err)
		}
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].OperatorKey < results[j].OperatorKey })
	return results, nil
}

// groupByOperatorKey filters low-confidence/out-of-subsample records,
// buckets the rest by OperatorKey, and within each operator key keeps at
// most one representative record per logarithmic duration bucket (spec
// §4.8 step 2), so a handful of dominant long-running queries can't
// outweigh many short ones in the training set.
func (l *Learner) groupByOperatorKey(records []executionlog.Record) map[string][]dataPoint {
	rng := rand.New(rand.NewSource(l.opts.Seed))
	groups := make(map[string][]dataPoint)
	seenBins := make(map[string]map[int]bool)
	for _, r := range records {
		if l.opts.SubsampleRatio < 1.0 && rng.Float64() > l.opts.SubsampleRatio {
			continue
		}
		symbols := map[string]float64{}
		minP := 1.0
		for _, oe := range r.Operators {
			for j, c := range oe.InputCards {
				symbols[fmt.Sprintf("in%d", j)] = float64(c)
				if j < len(oe.InputP) {
					minP = math.Min(minP, orOne(oe.InputP[j]))
				}
			}
			for j, c := range oe.OutputCards {
				symbols[fmt.Sprintf("out%d", j)] = float64(c)
				if j < len(oe.OutputP) {
					minP = math.Min(minP, orOne(oe.OutputP[j]))
				}
			}
		}
		if minP < l.opts.ConfidenceMin {
			continue
		}
		if l.opts.Binning > 1 {
			bin := durationBin(r.DurationMs, l.opts.Binning)
			bins, ok := seenBins[r.OperatorKey]
			if !ok {
				bins = make(map[int]bool)
				seenBins[r.OperatorKey] = bins
			}
			if bins[bin] {
				continue
			}
			bins[bin] = true
		}
		groups[r.OperatorKey] = append(groups[r.OperatorKey], dataPoint{symbols: symbols, actualMs: r.DurationMs, platform: r.Platform})
	}
	return groups
}

// durationBin buckets a duration into a logarithmic bin: with stretch > 1
// each bucket spans a factor of stretch in (durationMs+1) (spec §4.8's
// "binning" tunable).
func durationBin(durationMs, stretch float64) int {
	return int(math.Log(durationMs+1) / math.Log(stretch))
}

func orOne(p float64) float64 {
	if p == 0 {
		return 1.0
	}
	return p
}

// fitOne runs Options.Tribes independent GA tribes concurrently and
// keeps the fittest individual across all of them (spec §4.8:
// "superOptimizations run as independent tribes, each with its own
// seeded RNG — never a shared mutable RNG instance").
func (l *Learner) fitOne(key string, expr *cost.Expr, genes []string, points []dataPoint) (Result, error) {
	genes = activeGenes(genes, points)
	best := make([]Individual, l.opts.Tribes)
	bestFit := make([]float64, l.opts.Tribes)

	g := new(errgroup.Group)
	for t := 0; t < l.opts.Tribes; t++ {
		t := t
		g.Go(func() error {
			seed := l.opts.Seed + int64(t)
			if l.opts.Blocking {
				seed = l.opts.Seed // every tribe starts from the same per-group seed when blocking
			}
			rng := rand.New(rand.NewSource(seed + int64(stableHash(key))))
			ind, fit := l.runGA(expr, genes, points, rng)
			best[t] = ind
			bestFit[t] = fit
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	bestIdx := 0
	for i := 1; i < len(bestFit); i++ {
		if bestFit[i] < bestFit[bestIdx] {
			bestIdx = i
		}
	}

	if l.opts.NoiseDropMax > 0 {
		filtered := l.dropWorstFit(expr, best[bestIdx], points, l.opts.NoiseDropMax)
		if len(filtered) > 0 && len(filtered) < len(points) {
			rng := rand.New(rand.NewSource(l.opts.Seed + int64(stableHash(key)) + 1))
			ind, fit := l.runGA(expr, genes, filtered, rng)
			if fit < bestFit[bestIdx] {
				best[bestIdx], bestFit[bestIdx] = ind, fit
			}
		}
	}

	return Result{OperatorKey: key, Genes: best[bestIdx], Fitness: bestFit[bestIdx], Samples: len(points)}, nil
}

// platformOverheadGene names the synthetic gene that captures a
// platform's fixed initialization cost, added to every operator class's
// variable space per platform it was observed running on (spec §4.8
// step 3).
func platformOverheadGene(platform string) string {
	return "platform_overhead:" + platform
}

// activeGenes returns expr's free variables plus one
// platformOverheadGene per distinct platform observed in points, sorted
// so the gene order — and therefore the RNG draw sequence in
// seedPopulation/crossover/mutate — stays deterministic across runs.
func activeGenes(exprGenes []string, points []dataPoint) []string {
	seen := make(map[string]bool, len(exprGenes))
	out := append([]string{}, exprGenes...)
	for _, g := range out {
		seen[g] = true
	}
	var platformGenes []string
	for _, p := range points {
		g := platformOverheadGene(p.platform)
		if !seen[g] {
			seen[g] = true
			platformGenes = append(platformGenes, g)
		}
	}
	sort.Strings(platformGenes)
	return append(out, platformGenes...)
}

func stableHash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// runGA runs one tribe's full generational loop: uniform crossover plus
// Gaussian mutation over the active genes, elite-fraction selection,
// stopping at Generations or after 20 generations with no fitness
// improvement (spec §4.8's "stop conditions: maxGenerations or stalled
// improvement").
func (l *Learner) runGA(expr *cost.Expr, genes []string, points []dataPoint, rng *rand.Rand) (Individual, float64) {
	const stallLimit = 20
	pop := l.seedPopulation(genes, rng)
	fits := make([]float64, len(pop))
	for i, ind := range pop {
		fits[i] = l.fitness(expr, ind, points)
	}

	bestFit := math.Inf(1)
	var bestInd Individual
	stall := 0

	eliteN := int(float64(l.opts.Population) * l.opts.EliteFraction)
	if eliteN < 1 {
		eliteN = 1
	}

	for gen := 0; gen < l.opts.Generations; gen++ {
		order := make([]int, len(pop))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool { return fits[order[a]] < fits[order[b]] })

		if fits[order[0]] < bestFit {
			bestFit = fits[order[0]]
			bestInd = pop[order[0]].clone()
			stall = 0
		} else {
			stall++
		}
		if stall >= stallLimit {
			break
		}

		elites := make([]Individual, eliteN)
		for i := 0; i < eliteN; i++ {
			elites[i] = pop[order[i]]
		}

		next := make([]Individual, 0, l.opts.Population)
		next = append(next, elites...)
		for len(next) < l.opts.Population {
			a := elites[rng.Intn(len(elites))]
			b := elites[rng.Intn(len(elites))]
			child := crossover(a, b, genes, rng)
			mutate(child, genes, l.opts.MutationRate, l.opts.MutationSigma, rng)
			next = append(next, child)
		}
		pop = next
		for i, ind := range pop {
			fits[i] = l.fitness(expr, ind, points)
		}
	}

	if bestInd == nil {
		bestInd = pop[0]
		bestFit = fits[0]
	}
	return bestInd, bestFit
}

func (l *Learner) seedPopulation(genes []string, rng *rand.Rand) []Individual {
	pop := make([]Individual, l.opts.Population)
	for i := range pop {
		ind := make(Individual, len(genes))
		for _, g := range genes {
			ind[g] = rng.Float64() * 2 // genes start in [0, 2): multiplicative coefficients center near 1
		}
		pop[i] = ind
	}
	return pop
}

func crossover(a, b Individual, genes []string, rng *rand.Rand) Individual {
	child := make(Individual, len(genes))
	for _, g := range genes {
		if rng.Intn(2) == 0 {
			child[g] = a[g]
		} else {
			child[g] = b[g]
		}
	}
	return child
}

func mutate(ind Individual, genes []string, rate, sigma float64, rng *rand.Rand) {
	for _, g := range genes {
		if rng.Float64() < rate {
			ind[g] += rng.NormFloat64() * sigma
			if ind[g] < 0 {
				ind[g] = 0
			}
		}
	}
}

// fitness is the mean asymmetric log-ratio penalty between the
// expression's prediction (plus the platform's overhead gene) and the
// actual measured duration: log(max(m,p)+500)/log(min(m,p)+500) - 1,
// insensitive at low magnitudes (the +500 shift swamps small absolute
// differences) and unbounded as both values grow (spec §4.8 step 4).
func (l *Learner) fitness(expr *cost.Expr, ind Individual, points []dataPoint) float64 {
	if len(points) == 0 {
		return math.Inf(1)
	}
	var total float64
	for _, p := range points {
		predicted, err := expr.Eval(p.symbols, ind)
		if err != nil {
			total += 10 // heavily penalize an unevaluable gene assignment
			continue
		}
		predicted += ind[platformOverheadGene(p.platform)]
		if predicted <= 0 {
			total += 10 // heavily penalize a degenerate (non-positive) prediction
			continue
		}
		actual := math.Max(p.actualMs, 1e-6)
		total += logRatioPenalty(actual, predicted)
	}
	return total / float64(len(points))
}

func logRatioPenalty(measured, predicted float64) float64 {
	hi := math.Max(measured, predicted) + 500
	lo := math.Min(measured, predicted) + 500
	return math.Log(hi)/math.Log(lo) - 1
}

// dropWorstFit re-scores every point against ind and drops up to max
// points with the highest per-point penalty, for one post-convergence
// noise-filtering re-fit pass (spec §4.8).
func (l *Learner) dropWorstFit(expr *cost.Expr, ind Individual, points []dataPoint, max int) []dataPoint {
	type scored struct {
		p       dataPoint
		penalty float64
	}
	scoredPoints := make([]scored, len(points))
	for i, p := range points {
		predicted, err := expr.Eval(p.symbols, ind)
		if err != nil || predicted <= 0 {
			scoredPoints[i] = scored{p, math.Inf(1)}
			continue
		}
		ratio := predicted / math.Max(p.actualMs, 1e-6)
		pen := math.Abs(math.Log(math.Max(ratio, 1e-9)))
		scoredPoints[i] = scored{p, pen}
	}
	sort.Slice(scoredPoints, func(i, j int) bool { return scoredPoints[i].penalty < scoredPoints[j].penalty })
	drop := max
	if drop > len(scoredPoints) {
		drop = len(scoredPoints)
	}
	kept := scoredPoints[:len(scoredPoints)-drop]
	out := make([]dataPoint, len(kept))
	for i, s := range kept {
		out[i] = s.p
	}
	return out
}
