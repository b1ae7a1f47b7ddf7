package indicator

// ADX computes the Average Directional Index plus the +DI/−DI components,
// all Wilder-smoothed. Positions before the warmup (2×period) are 0.
func ADX(highs, lows, closes []float64, period int) (adx, plusDI, minusDI []float64) {
	n := len(closes)
	adx = make([]float64, n)
	plusDI = make([]float64, n)
	minusDI = make([]float64, n)
	if period <= 0 || n < 2*period {
		return adx, plusDI, minusDI
	}

	tr := TrueRange(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := highs[i] - highs[i-1]
		down := lows[i-1] - lows[i]
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	p := float64(period)
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := make([]float64, n)
	for i := period; i < n; i++ {
		if i > period {
			// Wilder running smoothing: drop 1/period of the sum, add the new value.
			smTR = smTR - smTR/p + tr[i]
			smPlus = smPlus - smPlus/p + plusDM[i]
			smMinus = smMinus - smMinus/p + minusDM[i]
		}
		if smTR > 0 {
			plusDI[i] = 100 * smPlus / smTR
			minusDI[i] = 100 * smMinus / smTR
		}
		sum := plusDI[i] + minusDI[i]
		if sum > 0 {
			diff := plusDI[i] - minusDI[i]
			if diff < 0 {
				diff = -diff
			}
			dx[i] = 100 * diff / sum
		}
	}

	// ADX is a Wilder MA of DX, seeded with the mean of the first period DX values.
	var sum float64
	for i := period; i < 2*period; i++ {
		sum += dx[i]
	}
	adx[2*period-1] = sum / p
	for i := 2 * period; i < n; i++ {
		adx[i] = (adx[i-1]*(p-1) + dx[i]) / p
	}
	return adx, plusDI, minusDI
}
