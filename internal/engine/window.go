package engine

import (
	"strconv"
	"time"

	"perpenginev1/internal/model"
)

// window maintains a rolling candle series for one timeframe. Seeded from
// backfill, then advanced by ticker updates: the forming candle absorbs
// in-bucket ticks and rolls when a tick crosses the bucket boundary.
type window struct {
	interval time.Duration
	max      int
	candles  []model.Candle
}

func newWindow(interval time.Duration, max int) *window {
	if max < 1 {
		max = 1
	}
	return &window{interval: interval, max: max}
}

// seed replaces the series with backfilled history, oldest first.
func (w *window) seed(cs []model.Candle) {
	if len(cs) > w.max {
		cs = cs[len(cs)-w.max:]
	}
	w.candles = append(w.candles[:0], cs...)
}

// apply folds a ticker update into the forming candle, rolling to a new one
// when the tick falls past the current bucket.
func (w *window) apply(t model.Ticker) {
	if t.LastPrice <= 0 {
		return
	}
	ts := t.TS
	if ts.IsZero() {
		ts = time.Now()
	}
	bucket := ts.Truncate(w.interval)

	n := len(w.candles)
	if n == 0 || bucket.After(w.candles[n-1].OpenTime) {
		w.candles = append(w.candles, model.Candle{
			Symbol:   t.Symbol,
			OpenTime: bucket,
			Open:     t.LastPrice,
			High:     t.LastPrice,
			Low:      t.LastPrice,
			Close:    t.LastPrice,
		})
		if len(w.candles) > w.max {
			w.candles = w.candles[1:]
		}
		return
	}

	c := &w.candles[n-1]
	if t.LastPrice > c.High {
		c.High = t.LastPrice
	}
	if t.LastPrice < c.Low {
		c.Low = t.LastPrice
	}
	c.Close = t.LastPrice
}

func (w *window) len() int { return len(w.candles) }

// intervalDuration maps a venue interval code to a duration. Numeric codes
// are minutes; D and W are calendar frames.
func intervalDuration(code string) time.Duration {
	switch code {
	case "D":
		return 24 * time.Hour
	case "W":
		return 7 * 24 * time.Hour
	}
	if m, err := strconv.Atoi(code); err == nil && m > 0 {
		return time.Duration(m) * time.Minute
	}
	return 5 * time.Minute
}
