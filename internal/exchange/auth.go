package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Auth signs exchange requests with the Bybit v5 HMAC-SHA256 convention:
// sign = HMAC_SHA256(secret, timestamp + apiKey + recvWindow + payload),
// hex-encoded. GET requests sign the query string; POST requests sign the
// JSON body. The exchange authenticates with a plain API key/secret
// pair — there is no on-chain wallet to derive or sign with.
type Auth struct {
	apiKey     string
	apiSecret  string
	recvWindow string
}

// NewAuth builds an Auth from the configured API credentials.
func NewAuth(apiKey, apiSecret string) *Auth {
	return &Auth{apiKey: apiKey, apiSecret: apiSecret, recvWindow: "5000"}
}

// APIKey returns the configured API key.
func (a *Auth) APIKey() string { return a.apiKey }

// RecvWindow returns the configured receive window in milliseconds.
func (a *Auth) RecvWindow() string { return a.recvWindow }

// Sign computes the request signature for a given payload (query string
// for GET, JSON body for POST) at the given timestamp.
func (a *Auth) Sign(timestampMs int64, payload string) string {
	ts := strconv.FormatInt(timestampMs, 10)
	message := ts + a.apiKey + a.recvWindow + payload
	mac := hmac.New(sha256.New, []byte(a.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the full set of auth headers for a signed request.
func (a *Auth) Headers(payload string) map[string]string {
	ts := time.Now().UnixMilli()
	return map[string]string{
		"X-BAPI-API-KEY":     a.apiKey,
		"X-BAPI-TIMESTAMP":   strconv.FormatInt(ts, 10),
		"X-BAPI-RECV-WINDOW": a.recvWindow,
		"X-BAPI-SIGN":        a.Sign(ts, payload),
	}
}
