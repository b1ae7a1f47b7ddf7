package indicator

// LinReg computes a rolling ordinary-least-squares regression of the values
// against their index within each window. slope[i] is the per-step slope of
// the window ending at i; r2[i] is the coefficient of determination, a
// confidence measure in [0,1]. Positions before the lookback are 0.
func LinReg(values []float64, period int) (slope, r2 []float64) {
	n := len(values)
	slope = make([]float64, n)
	r2 = make([]float64, n)
	if period <= 1 || n < period {
		return slope, r2
	}

	p := float64(period)
	// x = 0..period-1 within each window; these sums are window-invariant.
	sumX := p * (p - 1) / 2
	sumXX := p * (p - 1) * (2*p - 1) / 6
	denomX := p*sumXX - sumX*sumX

	for i := period - 1; i < n; i++ {
		var sumY, sumXY float64
		for j := 0; j < period; j++ {
			y := values[i-period+1+j]
			sumY += y
			sumXY += float64(j) * y
		}
		m := (p*sumXY - sumX*sumY) / denomX
		b := (sumY - m*sumX) / p
		slope[i] = m

		meanY := sumY / p
		var ssRes, ssTot float64
		for j := 0; j < period; j++ {
			y := values[i-period+1+j]
			fit := m*float64(j) + b
			ssRes += (y - fit) * (y - fit)
			ssTot += (y - meanY) * (y - meanY)
		}
		if ssTot > 0 {
			r2[i] = 1 - ssRes/ssTot
			if r2[i] < 0 {
				r2[i] = 0
			}
		}
	}
	return slope, r2
}
