// Package advisor is the thin external-model layer. It renders the fused
// signal context into a prompt, asks an OpenAI-style chat endpoint for a
// recommendation, and validates the reply hard: anything malformed, late,
// or in conflict with the scorer's own threshold is discarded in favor of a
// deterministic fallback. The advisor never returns an error to the loop.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"perpenginev1/internal/model"
	"perpenginev1/internal/scorer"
)

// Config tunes the external call. Disabled means every cycle takes the
// fallback path directly.
type Config struct {
	Enabled       bool          `yaml:"enabled" default:"false"`
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model" default:"gpt-4o-mini"`
	Timeout       time.Duration `yaml:"timeout" default:"8s"`
	MaxRetries    uint64        `yaml:"max_retries" default:"2"`
	RatePerMinute int           `yaml:"rate_per_minute" default:"10"`
}

// Client queries the advisory model.
type Client struct {
	cfg       Config
	http      *http.Client
	limiter   *rate.Limiter
	threshold float64 // scorer action threshold, for conflict overrides
	log       zerolog.Logger
}

// New creates an advisor gated by the scorer's action threshold.
func New(cfg Config, threshold float64, log zerolog.Logger) *Client {
	perMin := cfg.RatePerMinute
	if perMin <= 0 {
		perMin = 10
	}
	return &Client{
		cfg:       cfg,
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		threshold: threshold,
		log:       log.With().Str("component", "advisor").Logger(),
	}
}

// advice is the JSON shape the model must produce.
type advice struct {
	Action     string  `json:"action"`
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	Entry      float64 `json:"entry"`
	SL         float64 `json:"sl"`
	TP         float64 `json:"tp"`
	Reason     string  `json:"reason"`
}

var requiredKeys = []string{"action", "strategy", "confidence", "entry", "sl", "tp", "reason"}

// Advise produces the final trade signal for the cycle. On any failure it
// degrades to Fallback; it never propagates an error.
func (c *Client) Advise(ctx context.Context, in scorer.Inputs, sig model.TradeSignal) model.TradeSignal {
	if !c.cfg.Enabled {
		return c.Fallback(in, sig)
	}

	raw, err := c.call(ctx, c.buildPrompt(in, sig))
	if err != nil {
		c.log.Warn().Err(err).Msg("advisory call failed, using fallback")
		return c.Fallback(in, sig)
	}
	adv, err := parseAdvice(raw)
	if err != nil {
		c.log.Warn().Err(err).Msg("advisory reply unusable, using fallback")
		return c.Fallback(in, sig)
	}

	out := sig
	out.Action = model.Action(adv.Action)
	out.Confidence = adv.Confidence
	out.Reason = adv.Reason
	if adv.Strategy != "" {
		out.Strategy = adv.Strategy
	}
	if adv.Entry > 0 {
		out.Entry = adv.Entry
	}
	if adv.SL > 0 {
		out.StopLoss = adv.SL
	}
	if adv.TP > 0 {
		out.TakeProfit = adv.TP
	}

	// The model never outranks the scorer: a directional call the weighted
	// score does not clear is forced back to HOLD.
	if conflict := c.conflicts(out.Action, sig.WeightedScore); conflict {
		c.log.Info().Str("model_action", adv.Action).
			Float64("score", sig.WeightedScore).Msg("advisory overridden to HOLD")
		out.Action = model.ActionHold
		out.Reason = fmt.Sprintf("advisory %s overridden: score %.2f below threshold", adv.Action, sig.WeightedScore)
	}
	return out
}

// conflicts reports whether a directional action lacks scorer support.
func (c *Client) conflicts(a model.Action, score float64) bool {
	switch a {
	case model.ActionBuy:
		return score < c.threshold
	case model.ActionSell:
		return score > -c.threshold
	default:
		return false
	}
}

// Fallback derives a deterministic rule-based signal from the same context:
// the scorer's decision stands, vetoed to HOLD at stretched oscillator
// extremes.
func (c *Client) Fallback(in scorer.Inputs, sig model.TradeSignal) model.TradeSignal {
	out := sig
	switch {
	case out.Action == model.ActionBuy && in.RSI >= 70:
		out.Action = model.ActionHold
		out.Reason = fmt.Sprintf("fallback: BUY vetoed, RSI %.1f overbought", in.RSI)
	case out.Action == model.ActionSell && in.RSI <= 30:
		out.Action = model.ActionHold
		out.Reason = fmt.Sprintf("fallback: SELL vetoed, RSI %.1f oversold", in.RSI)
	default:
		out.Reason = "fallback: " + sig.Reason
	}
	return out
}

// buildPrompt renders the context snapshot as free text for the model.
func (c *Client) buildPrompt(in scorer.Inputs, sig model.TradeSignal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You advise a perpetual-futures trading engine. Current state for %s:\n", in.Symbol)
	fmt.Fprintf(&b, "price=%.4f rsi=%.1f stoch_k=%.1f macd_hist=%.4f\n", in.Price, in.RSI, in.StochK, in.MACDHist)
	fmt.Fprintf(&b, "trend_mtf=%s fast_trend=%+.0f slow_trend=%+.0f r2=%.2f regime=%s vol_ratio=%.2f\n",
		in.TrendMTF, in.FastTrend, in.SlowTrend, in.RegR2, in.Regime, in.VolatilityRatio)
	if in.HasMicro {
		fmt.Fprintf(&b, "book: mid=%.4f spread=%.2fbps imbalance=%+.2f pressure=%+.2f wall=%s\n",
			in.Micro.WeightedMidPrice, in.Micro.SpreadBps, in.Micro.Imbalance, in.Micro.Pressure, in.Micro.WallStatus)
	}
	fmt.Fprintf(&b, "scorer: action=%s score=%.2f confidence=%.2f reason=%q\n",
		sig.Action, sig.WeightedScore, sig.Confidence, sig.Reason)
	b.WriteString(`Reply with one JSON object: {"action":"BUY|SELL|HOLD","strategy":string,"confidence":0..1,"entry":number,"sl":number,"tp":number,"reason":string}`)
	return b.String()
}

// chat-completions request/response shapes.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// call sends the prompt, rate-limited and retried with exponential backoff,
// and returns the raw reply text.
func (c *Client) call(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model:    c.cfg.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	var reply string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		resp, err := c.http.Do(req)
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
		var cr chatResponse
		if err := json.Unmarshal(raw, &cr); err != nil {
			return backoff.Permanent(fmt.Errorf("decode reply: %w", err))
		}
		if len(cr.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("empty choices"))
		}
		reply = cr.Choices[0].Message.Content
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", err
	}
	return reply, nil
}

// parseAdvice extracts and validates the first JSON object in free text.
func parseAdvice(text string) (advice, error) {
	obj, ok := extractJSON(text)
	if !ok {
		return advice{}, fmt.Errorf("no JSON object in reply")
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &keys); err != nil {
		return advice{}, fmt.Errorf("malformed object: %w", err)
	}
	for _, k := range requiredKeys {
		if _, present := keys[k]; !present {
			return advice{}, fmt.Errorf("missing key %q", k)
		}
	}

	var a advice
	if err := json.Unmarshal([]byte(obj), &a); err != nil {
		return advice{}, fmt.Errorf("decode advice: %w", err)
	}
	if !model.Action(a.Action).Valid() {
		return advice{}, fmt.Errorf("invalid action %q", a.Action)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return advice{}, fmt.Errorf("confidence %.2f out of [0,1]", a.Confidence)
	}
	return a, nil
}

// extractJSON returns the first balanced {...} substring. Braces inside
// JSON strings are accounted for.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
