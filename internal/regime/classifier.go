package regime

import "arena/internal/market"

const DefaultBenchmarkCrashPct = -5.0

// Classifier maps anchor changes onto Table. It holds no state.
type Classifier struct {
	Benchmark      string
	CrashThreshold float64
}

func NewClassifier(benchmark string, crashPct float64) Classifier {
	if crashPct == 0 {
		crashPct = DefaultBenchmarkCrashPct
	}
	return Classifier{Benchmark: market.NormalizeSymbol(benchmark), CrashThreshold: crashPct}
}

// Classify averages the anchor changes. An empty anchor list is NEUTRAL.
func (c Classifier) Classify(anchorChanges []float64) Classification {
	avg := 0.0
	if len(anchorChanges) > 0 {
		sum := 0.0
		for _, v := range anchorChanges {
			sum += v
		}
		avg = sum / float64(len(anchorChanges))
	}
	band := lookup(avg)
	return Classification{
		Label:          band.Label,
		AvgChange:      avg,
		LeverageCap:    band.LeverageCap,
		AllocationCap:  band.AllocationCap,
		StopMultiplier: band.StopMultiplier,
		Bias:           band.Bias,
		Benchmark:      c.Benchmark,
		CrashThreshold: c.threshold(),
	}
}

// WithBenchmark attaches the benchmark change used by the correlation guard.
func (c Classifier) WithBenchmark(cls Classification, change float64) Classification {
	cls.Benchmark = c.Benchmark
	cls.BenchmarkChange = change
	cls.BenchmarkKnown = c.Benchmark != ""
	cls.CrashThreshold = c.threshold()
	return cls
}

// FromSnapshot classifies using the anchors present in snap and the benchmark
// entry if any.
func (c Classifier) FromSnapshot(snap market.Snapshot, anchors []string) Classification {
	cls := c.Classify(snap.Changes(anchors))
	if c.Benchmark == "" {
		return cls
	}
	if bench, ok := snap.Get(c.Benchmark); ok {
		return c.WithBenchmark(cls, bench.Change24hPct)
	}
	return cls
}

func (c Classifier) threshold() float64 {
	if c.CrashThreshold == 0 {
		return DefaultBenchmarkCrashPct
	}
	return c.CrashThreshold
}

func lookup(avg float64) Band {
	for _, band := range Table {
		if band.contains(avg) {
			return band
		}
	}
	return Table[1]
}
