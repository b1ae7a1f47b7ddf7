package indicator

// MACD computes the Moving Average Convergence/Divergence line, its signal
// line, and the histogram (line − signal). The line is EMA(fast) − EMA(slow);
// the signal is an EMA of the line seeded after the slow EMA warms up.
// Positions before the respective lookbacks are 0.
func MACD(values []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal, hist []float64) {
	n := len(values)
	line = make([]float64, n)
	signal = make([]float64, n)
	hist = make([]float64, n)
	if fastPeriod <= 0 || slowPeriod <= 0 || signalPeriod <= 0 || n < slowPeriod {
		return line, signal, hist
	}

	fast := EMA(values, fastPeriod)
	slow := EMA(values, slowPeriod)
	for i := slowPeriod - 1; i < n; i++ {
		line[i] = fast[i] - slow[i]
	}

	// Signal EMA over the valid portion of the line.
	start := slowPeriod - 1
	if n-start < signalPeriod {
		return line, signal, hist
	}
	mult := 2.0 / float64(signalPeriod+1)
	var sum float64
	for i := start; i < start+signalPeriod; i++ {
		sum += line[i]
	}
	seedIdx := start + signalPeriod - 1
	signal[seedIdx] = sum / float64(signalPeriod)
	hist[seedIdx] = line[seedIdx] - signal[seedIdx]
	for i := seedIdx + 1; i < n; i++ {
		signal[i] = line[i]*mult + signal[i-1]*(1-mult)
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}
