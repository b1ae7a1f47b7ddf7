package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Signer produces the authentication headers for signed venue requests.
// The signature is HMAC-SHA256 over timestamp + apiKey + recvWindow + body.
type Signer struct {
	apiKey     string
	apiSecret  string
	recvWindow string
	now        func() time.Time
}

// NewSigner creates a signer. recvWindowMs bounds how long the venue accepts
// the request after the signed timestamp. nowFn nil means time.Now.
func NewSigner(apiKey, apiSecret string, recvWindowMs int, nowFn func() time.Time) *Signer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Signer{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		recvWindow: strconv.Itoa(recvWindowMs),
		now:        nowFn,
	}
}

// Sign returns the hex signature for the given timestamp and payload.
// For GET requests the payload is the raw query string; for POST it is the
// JSON body.
func (s *Signer) Sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(timestamp + s.apiKey + s.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Apply stamps the signed auth headers onto req.
func (s *Signer) Apply(req *http.Request, payload string) {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	req.Header.Set("X-BAPI-API-KEY", s.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", s.recvWindow)
	req.Header.Set("X-BAPI-SIGN", s.Sign(ts, payload))
	req.Header.Set("Content-Type", "application/json")
}
