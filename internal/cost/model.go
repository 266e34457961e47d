// Package cost implements C4: the three-layer load-profile estimator
// composition, the load→time and time→cost converters, and the default
// plan comparator.
package cost

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/namyoh/rheem/internal/estimate"
	"github.com/namyoh/rheem/internal/planmodel"
	"github.com/namyoh/rheem/internal/rheemerrors"
)

// MinTimeMs is the combiner's floor, avoiding a zero time estimate for
// a degenerate (all-zero-cardinality) operator (spec §4.4).
const MinTimeMs = 0.05

// Key identifies a (platform, operator) pair for layered estimator
// lookup, matching the "rheem.<platform>.<op>.load" configuration key
// shape from spec §6.
type Key struct {
	Platform    string
	OperatorKey string
}

func (k Key) String() string { return fmt.Sprintf("rheem.%s.%s.load", k.Platform, k.OperatorKey) }

// LoadToTimeConverter converts one resource's load interval into a time
// interval. The default is linear: load*rate + constant (spec §4.4).
type LoadToTimeConverter func(load estimate.Interval) estimate.Interval

// DefaultLoadToTimeConverter builds the default linear converter.
func DefaultLoadToTimeConverter(rate, constant float64) LoadToTimeConverter {
	return func(load estimate.Interval) estimate.Interval {
		return estimate.Interval{
			Lower: load.Lower*rate + constant,
			Upper: load.Upper*rate + constant,
			P:     load.P,
		}
	}
}

// Combiner reduces per-resource time contributions to a single time
// estimate. The default sums cpu+disk+net (excluding ram, which is a
// capacity constraint rather than a throughput cost) and floors at
// MinTimeMs.
type Combiner func(contributions map[estimate.Resource]estimate.Interval) estimate.Interval

// DefaultCombiner implements spec §4.4's "default cpu + disk + net with
// a small floor."
func DefaultCombiner(contributions map[estimate.Resource]estimate.Interval) estimate.Interval {
	sum := contributions[estimate.ResourceCPU].Add(contributions[estimate.ResourceDisk]).Add(contributions[estimate.ResourceNet])
	if sum.Lower < MinTimeMs {
		sum.Lower = MinTimeMs
	}
	if sum.Upper < MinTimeMs {
		sum.Upper = MinTimeMs
	}
	if sum.P == 0 {
		sum.P = 1.0
	}
	return sum
}

// LoadProfileToTimeConverter composes per-resource LoadToTimeConverters
// with a pluggable Combiner (spec §4.4).
type LoadProfileToTimeConverter struct {
	Converters map[estimate.Resource]LoadToTimeConverter
	Combine    Combiner
}

// NewDefaultTimeConverter builds the spec's default converter: a
// uniform linear converter per resource and DefaultCombiner.
func NewDefaultTimeConverter(rate, constant float64) *LoadProfileToTimeConverter {
	conv := DefaultLoadToTimeConverter(rate, constant)
	return &LoadProfileToTimeConverter{
		Converters: map[estimate.Resource]LoadToTimeConverter{
			estimate.ResourceCPU:  conv,
			estimate.ResourceRAM:  conv,
			estimate.ResourceDisk: conv,
			estimate.ResourceNet:  conv,
		},
		Combine: DefaultCombiner,
	}
}

// Convert turns a LoadProfile into a TimeEstimate.
func (c *LoadProfileToTimeConverter) Convert(lp estimate.LoadProfile) estimate.Interval {
	contributions := map[estimate.Resource]estimate.Interval{
		estimate.ResourceCPU:  c.converterFor(estimate.ResourceCPU)(lp.CPU),
		estimate.ResourceRAM:  c.converterFor(estimate.ResourceRAM)(lp.RAM),
		estimate.ResourceDisk: c.converterFor(estimate.ResourceDisk)(lp.Disk),
		estimate.ResourceNet:  c.converterFor(estimate.ResourceNet)(lp.Net),
	}
	for r, overhead := range lp.OverheadMs {
		v := contributions[r]
		v.Lower += overhead
		v.Upper += overhead
		contributions[r] = v
	}
	return c.Combine(contributions)
}

func (c *LoadProfileToTimeConverter) converterFor(r estimate.Resource) LoadToTimeConverter {
	if conv, ok := c.Converters[r]; ok {
		return conv
	}
	return DefaultLoadToTimeConverter(1.0, 0)
}

// TimeToCostConverter maps a time interval to a monetary cost interval
// via a per-ms rate plus a fixed cost per involved platform (spec §4.4).
type TimeToCostConverter struct {
	RatePerMs     float64
	FixCostPerPlatform float64
}

// Convert turns a time estimate for numPlatforms involved platforms
// into a CostEstimate.
func (c TimeToCostConverter) Convert(t estimate.Interval, numPlatforms int) estimate.Interval {
	return t.MulRate(c.RatePerMs, c.FixCostPerPlatform*float64(numPlatforms))
}

// Comparator orders two cost estimates; Compare returns <0, 0, >0 like
// a standard three-way comparator.
type Comparator func(a, b estimate.Interval) int

// Model composes the three estimator layers and the converters into one
// cost model per spec §4.4.
type Model struct {
	builtinOverride map[Key]estimate.LoadProfileEstimator // rarely used: override even the operator's own builtin
	platformDefault map[Key]estimate.LoadProfileEstimator
	userOverride    map[Key]estimate.LoadProfileEstimator

	timeConverters map[string]*LoadProfileToTimeConverter // keyed by platform
	defaultTime    *LoadProfileToTimeConverter
	costConverter  TimeToCostConverter
	comparator     Comparator

	log zerolog.Logger

	warnedMissingLoad map[planmodel.ID]bool
}

// NewModel builds a cost Model with the spec defaults: linear time
// conversion, DefaultCombiner, and the expectation-based comparator.
func NewModel(log zerolog.Logger) *Model {
	return &Model{
		platformDefault:   make(map[Key]estimate.LoadProfileEstimator),
		userOverride:      make(map[Key]estimate.LoadProfileEstimator),
		timeConverters:    make(map[string]*LoadProfileToTimeConverter),
		defaultTime:       NewDefaultTimeConverter(1.0, 0),
		costConverter:     TimeToCostConverter{RatePerMs: 0.00001, FixCostPerPlatform: 0.0},
		comparator:        estimate.Compare,
		log:               log.With().Str("component", "cost").Logger(),
		warnedMissingLoad: make(map[planmodel.ID]bool),
	}
}

// SetPlatformDefault registers the platform-default layer estimator for
// a (platform, operator key) pair, typically parsed from a
// "rheem.<platform>.<op>.load" configuration value.
func (m *Model) SetPlatformDefault(key Key, est estimate.LoadProfileEstimator) {
	m.platformDefault[key] = est
}

// SetUserOverride registers a programmatic override, the highest-
// priority layer.
func (m *Model) SetUserOverride(key Key, est estimate.LoadProfileEstimator) {
	m.userOverride[key] = est
}

// SetTimeConverter installs a platform-specific load→time converter,
// overriding the default for that platform only.
func (m *Model) SetTimeConverter(platformID string, conv *LoadProfileToTimeConverter) {
	m.timeConverters[platformID] = conv
}

// SetComparator overrides the default expectation-based comparator.
func (m *Model) SetComparator(c Comparator) { m.comparator = c }

// Compare orders two cost estimates using the configured comparator.
func (m *Model) Compare(a, b estimate.Interval) int { return m.comparator(a, b) }

// EstimateLoadProfile resolves the composed estimator for op (user
// override > platform default > built-in) and evaluates it. Falls back
// to a zero load profile plus a one-time warning if none is configured
// (spec §4.4, §7: "never fail").
func (m *Model) EstimateLoadProfile(op *planmodel.Operator, key Key, in, out []estimate.Cardinality, vars map[string]float64) estimate.LoadProfile {
	if est, ok := m.userOverride[key]; ok {
		return est(in, out, vars)
	}
	if est, ok := m.platformDefault[key]; ok {
		return est(in, out, vars)
	}
	if op.BuiltinLoad != nil {
		return op.BuiltinLoad(in, out, vars)
	}
	if !m.warnedMissingLoad[op.ID] {
		m.log.Warn().Uint64("operator", uint64(op.ID)).Str("key", key.String()).
			Msg("no load profile estimator configured, using zero-load fallback")
		m.warnedMissingLoad[op.ID] = true
	}
	return estimate.NewLoadProfile()
}

// EstimateTime converts a load profile to a time estimate using the
// platform-specific converter if one is registered, else the default.
func (m *Model) EstimateTime(platformID string, lp estimate.LoadProfile) estimate.Interval {
	if conv, ok := m.timeConverters[platformID]; ok {
		return conv.Convert(lp)
	}
	return m.defaultTime.Convert(lp)
}

// EstimateCost converts a time estimate to a cost estimate for
// numPlatforms involved backends.
func (m *Model) EstimateCost(t estimate.Interval, numPlatforms int) estimate.Interval {
	return m.costConverter.Convert(t, numPlatforms)
}

// ExpressionEstimator compiles a "rheem.<platform>.<op>.load"
// configuration string into an estimate.LoadProfileEstimator. The
// expression is evaluated once per resource dimension if the config
// supplies one sub-expression per resource (cpuExpr/ramExpr/diskExpr/
// netExpr); an empty sub-expression yields zero load for that resource.
func ExpressionEstimator(cpuExpr, ramExpr, diskExpr, netExpr string) (estimate.LoadProfileEstimator, error) {
	compiled := map[estimate.Resource]*Expr{}
	for r, src := range map[estimate.Resource]string{
		estimate.ResourceCPU: cpuExpr, estimate.ResourceRAM: ramExpr,
		estimate.ResourceDisk: diskExpr, estimate.ResourceNet: netExpr,
	} {
		if src == "" {
			continue
		}
		e, err := Parse(src)
		if err != nil {
			return nil, rheemerrors.Configuration("cost.ExpressionEstimator", fmt.Sprintf("failed to parse %s expression %q: %v", r, src, err))
		}
		compiled[r] = e
	}
	return func(in, out []estimate.Cardinality, vars map[string]float64) estimate.LoadProfile {
		symbols := symbolTable(in, out)
		lp := estimate.NewLoadProfile()
		for r, e := range compiled {
			v, err := e.Eval(symbols, vars)
			if err != nil {
				v = 0
			}
			lp = lp.WithResource(r, estimate.Interval{Lower: v, Upper: v, P: minProbability(in, out)})
		}
		return lp
	}, nil
}

func symbolTable(in, out []estimate.Cardinality) map[string]float64 {
	symbols := make(map[string]float64, len(in)+len(out))
	for i, c := range in {
		symbols[fmt.Sprintf("in%d", i)] = c.Mid()
	}
	for i, c := range out {
		symbols[fmt.Sprintf("out%d", i)] = c.Mid()
	}
	return symbols
}

func minProbability(in, out []estimate.Cardinality) float64 {
	p := 1.0
	for _, c := range in {
		p = math.Min(p, orOne(c.P))
	}
	for _, c := range out {
		p = math.Min(p, orOne(c.P))
	}
	return p
}

func orOne(p float64) float64 {
	if p == 0 {
		return 1.0
	}
	return p
}
