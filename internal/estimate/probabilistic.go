package estimate

// Interval is the ProbabilisticDoubleInterval from spec §3: used both
// as a TimeEstimate (milliseconds) and as a CostEstimate (money), with a
// correctness probability carried alongside the bounds.
type Interval struct {
	Lower float64
	Upper float64
	P     float64
}

// Zero is the identity element for Add: a degenerate interval at 0 with
// full confidence, so summing an empty list of intervals is well-defined.
var Zero = Interval{P: 1.0}

// Add composes two independent intervals sequentially (spec §8's
// "time/cost compositionality": combined interval is the sum of the
// individual intervals, with probability min(p1, p2)).
func (i Interval) Add(o Interval) Interval {
	return Interval{Lower: i.Lower + o.Lower, Upper: i.Upper + o.Upper, P: minF(i.P, o.P)}
}

// Scale multiplies both bounds by a non-negative factor (e.g. an
// iteration count), leaving p unchanged.
func (i Interval) Scale(factor float64) Interval {
	if factor < 0 {
		factor = 0
	}
	return Interval{Lower: i.Lower * factor, Upper: i.Upper * factor, P: i.P}
}

// MulRate converts a time interval (ms) to a cost interval via a
// per-ms rate plus a fixed cost, per spec §4.3's CostEstimate formula.
func (i Interval) MulRate(ratePerMs, fixCost float64) Interval {
	return Interval{Lower: i.Lower*ratePerMs + fixCost, Upper: i.Upper*ratePerMs + fixCost, P: i.P}
}

// Mid returns the probability-weighted midpoint used by the default
// plan comparator (spec §4.4: "expectation (midpoint weighted by
// probability)").
func (i Interval) Mid() float64 {
	return (i.Lower + i.Upper) / 2 * i.P
}

// Compare implements the default comparator: lower expectation wins,
// ties break on the lower upper bound (spec §4.4).
func Compare(a, b Interval) int {
	am, bm := a.Mid(), b.Mid()
	switch {
	case am < bm:
		return -1
	case am > bm:
		return 1
	case a.Upper < b.Upper:
		return -1
	case a.Upper > b.Upper:
		return 1
	default:
		return 0
	}
}

// Resource identifies one of the four load-profile resource dimensions.
type Resource int

const (
	ResourceCPU Resource = iota
	ResourceRAM
	ResourceDisk
	ResourceNet
)

func (r Resource) String() string {
	switch r {
	case ResourceCPU:
		return "cpu"
	case ResourceRAM:
		return "ram"
	case ResourceDisk:
		return "disk"
	case ResourceNet:
		return "net"
	default:
		return "unknown"
	}
}

// LoadProfile is the quadruple of per-resource loads plus overhead
// scalars from spec §3.
type LoadProfile struct {
	CPU, RAM, Disk, Net Interval
	// OverheadMs is a fixed per-resource initialization cost (e.g.
	// platform startup) not proportional to cardinality.
	OverheadMs map[Resource]float64
}

// NewLoadProfile returns a LoadProfile with all resources at zero load.
func NewLoadProfile() LoadProfile {
	return LoadProfile{OverheadMs: make(map[Resource]float64, 4)}
}

// Resource returns the interval for one resource dimension.
func (lp LoadProfile) Resource(r Resource) Interval {
	switch r {
	case ResourceCPU:
		return lp.CPU
	case ResourceRAM:
		return lp.RAM
	case ResourceDisk:
		return lp.Disk
	case ResourceNet:
		return lp.Net
	default:
		return Interval{}
	}
}

// WithResource returns a copy of lp with resource r set to v.
func (lp LoadProfile) WithResource(r Resource, v Interval) LoadProfile {
	switch r {
	case ResourceCPU:
		lp.CPU = v
	case ResourceRAM:
		lp.RAM = v
	case ResourceDisk:
		lp.Disk = v
	case ResourceNet:
		lp.Net = v
	}
	return lp
}

// LoadProfileEstimator computes a LoadProfile from an operator's input
// and output cardinalities plus a set of named-variable bindings (the
// genes C8 fits, spec §4.4/§4.8). Defined here (rather than in the cost
// package) so planmodel.Operator can carry a built-in estimator without
// importing the cost package.
type LoadProfileEstimator func(in, out []Cardinality, vars map[string]float64) LoadProfile

// Add combines two load profiles resource-wise, used when summing the
// load of sequential operators before converting to time.
func (lp LoadProfile) Add(o LoadProfile) LoadProfile {
	out := LoadProfile{
		CPU:        lp.CPU.Add(o.CPU),
		RAM:        lp.RAM.Add(o.RAM),
		Disk:       lp.Disk.Add(o.Disk),
		Net:        lp.Net.Add(o.Net),
		OverheadMs: make(map[Resource]float64, 4),
	}
	for r, v := range lp.OverheadMs {
		out.OverheadMs[r] += v
	}
	for r, v := range o.OverheadMs {
		out.OverheadMs[r] += v
	}
	return out
}
