package indicator

import "perpenginev1/internal/model"

// ClassifyRegime labels the market regime from the ratio of current to
// average historical volatility. Ratios above volatileAbove mark a volatile
// regime, below quietBelow a quiet one, otherwise normal. Returns the label
// and the ratio itself (1 when history is insufficient).
func ClassifyRegime(closes []float64, period int, quietBelow, volatileAbove float64) (model.Regime, float64) {
	ratio := VolatilityRatio(closes, period)
	switch {
	case ratio > volatileAbove:
		return model.RegimeVolatile, ratio
	case ratio < quietBelow:
		return model.RegimeQuiet, ratio
	default:
		return model.RegimeNormal, ratio
	}
}
