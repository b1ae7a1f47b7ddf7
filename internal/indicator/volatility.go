package indicator

import "math"

// TrueRange computes the per-candle true range:
// max(high−low, |high−prevClose|, |low−prevClose|). The first element uses
// high−low since there is no previous close.
func TrueRange(highs, lows, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		hl := highs[i] - lows[i]
		if i == 0 {
			out[i] = hl
			continue
		}
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the Average True Range with Wilder smoothing.
// Positions before the lookback are 0.
func ATR(highs, lows, closes []float64, period int) []float64 {
	if period <= 0 || len(closes) < period {
		return make([]float64, len(closes))
	}
	return WilderMA(TrueRange(highs, lows, closes), period)
}

// HistVolatility computes the rolling standard deviation of log returns
// over the given period. Positions before the lookback are 0.
func HistVolatility(closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if period <= 1 || n <= period {
		return out
	}

	rets := make([]float64, n)
	for i := 1; i < n; i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			rets[i] = math.Log(closes[i] / closes[i-1])
		}
	}

	for i := period; i < n; i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += rets[j]
		}
		mean := sum / float64(period)
		var variance float64
		for j := i - period + 1; j <= i; j++ {
			d := rets[j] - mean
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// VolatilityRatio returns the latest volatility divided by its average over
// the full window. Returns 1 when no meaningful history exists, so the
// scorer's volatility adjustment stays neutral.
func VolatilityRatio(closes []float64, period int) float64 {
	vol := HistVolatility(closes, period)
	var sum float64
	count := 0
	for _, v := range vol {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count == 0 {
		return 1
	}
	avg := sum / float64(count)
	latest := vol[len(vol)-1]
	if avg == 0 || latest == 0 {
		return 1
	}
	return latest / avg
}
