package indicator

// PivotLevels holds fixed-point pivot levels derived from a prior period's
// high, low, and close.
type PivotLevels struct {
	PP float64
	R1 float64
	R2 float64
	R3 float64
	S1 float64
	S2 float64
	S3 float64
}

// Pivots computes classic floor-trader pivot levels.
func Pivots(high, low, close float64) PivotLevels {
	pp := (high + low + close) / 3
	rng := high - low
	return PivotLevels{
		PP: pp,
		R1: 2*pp - low,
		R2: pp + rng,
		R3: high + 2*(pp-low),
		S1: 2*pp - high,
		S2: pp - rng,
		S3: low - 2*(high-pp),
	}
}

// FibonacciPivots computes pivot levels with Fibonacci fractions of the
// prior range (0.382, 0.618, 1.000) around the pivot point.
func FibonacciPivots(high, low, close float64) PivotLevels {
	pp := (high + low + close) / 3
	rng := high - low
	return PivotLevels{
		PP: pp,
		R1: pp + 0.382*rng,
		R2: pp + 0.618*rng,
		R3: pp + rng,
		S1: pp - 0.382*rng,
		S2: pp - 0.618*rng,
		S3: pp - rng,
	}
}
