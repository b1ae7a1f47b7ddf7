package indicator

import "math"

// Bollinger computes Bollinger bands: an SMA middle band with upper/lower
// bands at mult standard deviations. Positions before the lookback are 0.
func Bollinger(values []float64, period int, mult float64) (upper, middle, lower []float64) {
	n := len(values)
	upper = make([]float64, n)
	middle = SMA(values, period)
	lower = make([]float64, n)
	if period <= 0 || n < period {
		return upper, middle, lower
	}

	for i := period - 1; i < n; i++ {
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - middle[i]
			variance += d * d
		}
		sd := math.Sqrt(variance / float64(period))
		upper[i] = middle[i] + mult*sd
		lower[i] = middle[i] - mult*sd
	}
	return upper, middle, lower
}

// Keltner computes Keltner channels: an EMA middle line with bands at
// mult × ATR. Positions before the longer of the two lookbacks are 0.
func Keltner(highs, lows, closes []float64, emaPeriod, atrPeriod int, mult float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = make([]float64, n)
	lower = make([]float64, n)
	middle = EMA(closes, emaPeriod)
	if emaPeriod <= 0 || atrPeriod <= 0 || n < emaPeriod || n < atrPeriod {
		return upper, middle, lower
	}

	atr := ATR(highs, lows, closes, atrPeriod)
	start := emaPeriod - 1
	if atrPeriod-1 > start {
		start = atrPeriod - 1
	}
	for i := start; i < n; i++ {
		upper[i] = middle[i] + mult*atr[i]
		lower[i] = middle[i] - mult*atr[i]
	}
	return upper, middle, lower
}

// SqueezeOn reports whether the Bollinger bands sit fully inside the
// Keltner channel at index i, the classic volatility-squeeze condition.
func SqueezeOn(bbUpper, bbLower, kcUpper, kcLower []float64, i int) bool {
	if i < 0 || i >= len(bbUpper) {
		return false
	}
	if bbUpper[i] == 0 || kcUpper[i] == 0 {
		return false
	}
	return bbUpper[i] < kcUpper[i] && bbLower[i] > kcLower[i]
}
