package indicator

import "math"

// neutralOscillator is the defined value for bounded oscillators before
// their minimum lookback is reached.
const neutralOscillator = 50.0

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// RSI computes the Relative Strength Index using Wilder's smoothing.
// Output is bounded to [0,100]; positions before the first valid value
// (index period) hold the neutral 50.
func RSI(values []float64, period int) []float64 {
	if period <= 0 || len(values) <= period {
		return filled(len(values), neutralOscillator)
	}
	out := filled(len(values), neutralOscillator)

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p
	out[period] = rsiFrom(avgGain, avgLoss)

	for i := period + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Stochastic computes the stochastic oscillator %K and %D. %K is the raw
// position of the close within the high/low range of the last kPeriod
// candles; %D is the SMA of %K over dPeriod. Both are bounded to [0,100]
// with 50 before their lookback.
func Stochastic(highs, lows, closes []float64, kPeriod, dPeriod int) (k, d []float64) {
	n := len(closes)
	k = filled(n, neutralOscillator)
	d = filled(n, neutralOscillator)
	if kPeriod <= 0 || dPeriod <= 0 || n < kPeriod {
		return k, d
	}

	for i := kPeriod - 1; i < n; i++ {
		hh, ll := highs[i], lows[i]
		for j := i - kPeriod + 1; j < i; j++ {
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		if hh == ll {
			k[i] = neutralOscillator
		} else {
			k[i] = 100 * (closes[i] - ll) / (hh - ll)
		}
	}

	first := kPeriod - 1 + dPeriod - 1
	for i := first; i < n; i++ {
		var sum float64
		for j := i - dPeriod + 1; j <= i; j++ {
			sum += k[j]
		}
		d[i] = sum / float64(dPeriod)
	}
	return k, d
}

// MFI computes the Money Flow Index over the given period, bounded to
// [0,100] with 50 before the lookback.
func MFI(highs, lows, closes, volumes []float64, period int) []float64 {
	n := len(closes)
	if period <= 0 || n <= period {
		return filled(n, neutralOscillator)
	}
	out := filled(n, neutralOscillator)

	tp := make([]float64, n)
	for i := range tp {
		tp[i] = (highs[i] + lows[i] + closes[i]) / 3
	}

	for i := period; i < n; i++ {
		var posFlow, negFlow float64
		for j := i - period + 1; j <= i; j++ {
			flow := tp[j] * volumes[j]
			if tp[j] > tp[j-1] {
				posFlow += flow
			} else if tp[j] < tp[j-1] {
				negFlow += flow
			}
		}
		if negFlow == 0 {
			out[i] = 100
		} else {
			ratio := posFlow / negFlow
			out[i] = 100 - 100/(1+ratio)
		}
	}
	return out
}

// CCI computes the Commodity Channel Index. Positions before the lookback
// are 0 (CCI is unbounded, so its neutral is zero).
func CCI(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if period <= 0 || n < period {
		return out
	}

	tp := make([]float64, n)
	for i := range tp {
		tp[i] = (highs[i] + lows[i] + closes[i]) / 3
	}

	for i := period - 1; i < n; i++ {
		var sum float64
		for j := i - period + 1; j <= i; j++ {
			sum += tp[j]
		}
		mean := sum / float64(period)
		var dev float64
		for j := i - period + 1; j <= i; j++ {
			dev += math.Abs(tp[j] - mean)
		}
		dev /= float64(period)
		if dev != 0 {
			out[i] = (tp[i] - mean) / (0.015 * dev)
		}
	}
	return out
}

// Choppiness computes the Choppiness Index: 100 near pure ranging, 0 in a
// strong trend. Bounded oscillator, so the neutral prefix is 50.
func Choppiness(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	if period <= 1 || n <= period {
		return filled(n, neutralOscillator)
	}
	out := filled(n, neutralOscillator)

	tr := TrueRange(highs, lows, closes)
	logP := math.Log10(float64(period))

	for i := period; i < n; i++ {
		var sumTR float64
		hh, ll := highs[i], lows[i]
		for j := i - period + 1; j <= i; j++ {
			sumTR += tr[j]
			hh = math.Max(hh, highs[j])
			ll = math.Min(ll, lows[j])
		}
		if hh == ll || sumTR == 0 {
			continue
		}
		out[i] = 100 * math.Log10(sumTR/(hh-ll)) / logP
	}
	return out
}
