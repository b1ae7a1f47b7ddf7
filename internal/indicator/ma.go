// Package indicator provides technical indicator calculations over candle
// series. Every function is pure and deterministic: it takes one or more
// equal-length float64 slices plus a period, and returns slices of exactly
// the input length. Positions before an indicator's minimum lookback hold a
// defined neutral value (0, or 50 for bounded oscillators) instead of NaN,
// so callers can index the output 1:1 with the candle window without guards.
package indicator

// SMA computes the simple moving average over a rolling window.
// out[i] is the mean of values[i-period+1..i]; positions before the first
// full window are 0.
func SMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average, seeded with the SMA of the
// first period values. Positions before the seed are 0.
func EMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	mult := 2.0 / float64(period+1)
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < len(values); i++ {
		out[i] = values[i]*mult + out[i-1]*(1-mult)
	}
	return out
}

// WilderMA computes Wilder's smoothed moving average (alpha = 1/period),
// seeded with the SMA of the first period values.
func WilderMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	p := float64(period)
	var sum float64
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / p
	for i := period; i < len(values); i++ {
		out[i] = (out[i-1]*(p-1) + values[i]) / p
	}
	return out
}

// VWAP computes the cumulative volume-weighted average price over the
// window, using the typical price (H+L+C)/3 per candle. Positions with no
// cumulative volume yet are 0.
func VWAP(highs, lows, closes, volumes []float64) []float64 {
	out := make([]float64, len(closes))
	var cumPV, cumV float64
	for i := range closes {
		tp := (highs[i] + lows[i] + closes[i]) / 3
		cumPV += tp * volumes[i]
		cumV += volumes[i]
		if cumV > 0 {
			out[i] = cumPV / cumV
		}
	}
	return out
}
