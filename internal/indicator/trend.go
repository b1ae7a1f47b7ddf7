package indicator

import "math"

// SuperTrend computes the SuperTrend overlay. trend[i] is +1 while the
// close rides above the active band and −1 below it; level[i] is the active
// stop level. Positions before the ATR warmup hold trend 0 and level 0.
func SuperTrend(highs, lows, closes []float64, period int, mult float64) (trend, level []float64) {
	n := len(closes)
	trend = make([]float64, n)
	level = make([]float64, n)
	if period <= 0 || n < period+1 {
		return trend, level
	}

	atr := ATR(highs, lows, closes, period)
	upper := make([]float64, n)
	lower := make([]float64, n)

	for i := period; i < n; i++ {
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + mult*atr[i]
		basicLower := mid - mult*atr[i]

		// Band carryover: bands only tighten, never widen, while price
		// stays on the same side.
		if i == period {
			upper[i] = basicUpper
			lower[i] = basicLower
			if closes[i] >= basicLower {
				trend[i] = 1
				level[i] = lower[i]
			} else {
				trend[i] = -1
				level[i] = upper[i]
			}
			continue
		}

		if basicUpper < upper[i-1] || closes[i-1] > upper[i-1] {
			upper[i] = basicUpper
		} else {
			upper[i] = upper[i-1]
		}
		if basicLower > lower[i-1] || closes[i-1] < lower[i-1] {
			lower[i] = basicLower
		} else {
			lower[i] = lower[i-1]
		}

		prev := trend[i-1]
		switch {
		case prev >= 0 && closes[i] < lower[i-1]:
			trend[i] = -1
		case prev <= 0 && closes[i] > upper[i-1]:
			trend[i] = 1
		default:
			trend[i] = prev
		}

		if trend[i] > 0 {
			level[i] = lower[i]
		} else {
			level[i] = upper[i]
		}
	}
	return trend, level
}

// ChandelierExit computes the Chandelier Exit overlay: a long stop at
// highest-high − mult×ATR and a short stop at lowest-low + mult×ATR.
// trend[i] is +1 while the close holds above the long stop, −1 below the
// short stop; level[i] is the stop for the active side.
func ChandelierExit(highs, lows, closes []float64, period int, mult float64) (trend, level []float64) {
	n := len(closes)
	trend = make([]float64, n)
	level = make([]float64, n)
	if period <= 0 || n < period+1 {
		return trend, level
	}

	atr := ATR(highs, lows, closes, period)

	for i := period; i < n; i++ {
		hh, ll := highs[i], lows[i]
		for j := i - period + 1; j < i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		longStop := hh - mult*atr[i]
		shortStop := ll + mult*atr[i]

		prev := trend[i-1]
		switch {
		case closes[i] > shortStop && prev <= 0:
			trend[i] = 1
		case closes[i] < longStop && prev >= 0:
			trend[i] = -1
		default:
			if prev == 0 {
				trend[i] = 1
			} else {
				trend[i] = prev
			}
		}

		if trend[i] > 0 {
			level[i] = longStop
		} else {
			level[i] = shortStop
		}
	}
	return trend, level
}
