package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"perpenginev1/internal/model"
)

// BackfillConfig configures the candle history client.
type BackfillConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout" default:"10s"`
	MaxRetries    uint64        `yaml:"max_retries" default:"3"`
	RatePerSecond float64       `yaml:"rate_per_second" default:"5"`
}

// Backfill pulls historical candles over REST, paced by a rate limiter and
// retried with exponential backoff.
type Backfill struct {
	cfg     BackfillConfig
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewBackfill creates a backfill client.
func NewBackfill(cfg BackfillConfig, log zerolog.Logger) *Backfill {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 5
	}
	return &Backfill{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log.With().Str("component", "backfill").Logger(),
	}
}

// Candles fetches up to limit candles for symbol/interval, ordered oldest
// to newest. The venue returns newest-first; the result is reversed.
func (b *Backfill) Candles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("backfill pacing: %w", err)
	}

	q := url.Values{}
	q.Set("category", "linear")
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	endpoint := b.cfg.BaseURL + "/v5/market/kline?" + q.Encode()

	var rows [][]string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := b.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("http %d: %s", resp.StatusCode, raw)
		}
		var env struct {
			RetCode int    `json:"retCode"`
			RetMsg  string `json:"retMsg"`
			Result  struct {
				List [][]string `json:"list"`
			} `json:"result"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			return backoff.Permanent(fmt.Errorf("decode kline: %w", err))
		}
		if env.RetCode != 0 {
			return fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg)
		}
		rows = env.Result.List
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, fmt.Errorf("backfill %s %s: %w", symbol, interval, err)
	}

	candles, err := parseKlineRows(symbol, rows)
	if err != nil {
		return nil, fmt.Errorf("backfill %s %s: %w", symbol, interval, err)
	}
	b.log.Debug().Str("symbol", symbol).Str("interval", interval).
		Int("candles", len(candles)).Msg("backfill complete")
	return candles, nil
}

// parseKlineRows decodes [startMs, open, high, low, close, volume, ...]
// rows and reverses them into chronological order.
func parseKlineRows(symbol string, rows [][]string) ([]model.Candle, error) {
	out := make([]model.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row has %d fields, want >= 6", len(row))
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("start time %q: %w", row[0], err)
		}
		vals := make([]float64, 5)
		for j := 0; j < 5; j++ {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("field %d %q: %w", j+1, row[j+1], err)
			}
			vals[j] = v
		}
		out = append(out, model.Candle{
			Symbol:   symbol,
			OpenTime: time.UnixMilli(ms),
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}
	return out, nil
}
