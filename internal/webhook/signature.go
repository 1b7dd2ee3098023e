// Package webhook verifies that gateway notifications are authentic and fresh.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAge is the staleness window used when none is configured.
const DefaultMaxAge = 300 * time.Second

// Signature is the parsed x-signature header.
type Signature struct {
	TS   string
	Hash string
}

// ParseSignature parses "ts=<ts>,v1=<hash>". Unknown keys are ignored.
func ParseSignature(header string) (Signature, bool) {
	var sig Signature
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			sig.TS = strings.TrimSpace(value)
		case "v1":
			sig.Hash = strings.TrimSpace(value)
		}
	}
	return sig, sig.TS != "" && sig.Hash != ""
}

// Manifest is the string the gateway signs.
func Manifest(dataID, requestID, ts string) string {
	return "id=" + dataID + ";request-id=" + requestID + ";ts=" + ts
}

// Sign returns the hex HMAC-SHA256 of the manifest under secret.
func Sign(secret, dataID, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Manifest(dataID, requestID, ts)))
	return hex.EncodeToString(mac.Sum(nil))
}

type Validator struct {
	secret string
	logger *zap.Logger
	now    func() time.Time
}

func NewValidator(secret string, logger *zap.Logger) *Validator {
	return &Validator{secret: secret, logger: logger, now: time.Now}
}

// Validate checks the x-signature header of a notification about dataID.
//
// Without a configured secret every notification that carries the headers is accepted and a
// warning is logged. Deployments must set MERCADOPAGO_WEBHOOK_SECRET.
func (v *Validator) Validate(signatureHeader, requestID, dataID string) bool {
	if signatureHeader == "" || requestID == "" {
		v.logger.Warn("Webhook without signature or request id")
		return false
	}

	if v.secret == "" {
		v.logger.Warn("MERCADOPAGO_WEBHOOK_SECRET not configured, skipping signature validation",
			zap.String("request_id", requestID))
		return true
	}

	sig, ok := ParseSignature(signatureHeader)
	if !ok {
		v.logger.Error("Malformed x-signature header", zap.String("request_id", requestID))
		return false
	}

	expected := Sign(v.secret, dataID, requestID, sig.TS)
	if !hmac.Equal([]byte(sig.Hash), []byte(expected)) {
		v.logger.Error("Invalid webhook signature",
			zap.String("request_id", requestID),
			zap.String("data_id", dataID))
		return false
	}

	v.logger.Debug("Webhook signature valid", zap.String("request_id", requestID))
	return true
}

// IsTooOld reports whether ts (unix seconds) is more than maxAge in the past.
// Unparseable timestamps count as too old.
func (v *Validator) IsTooOld(ts string, maxAge time.Duration) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		v.logger.Warn("Webhook timestamp not an integer", zap.String("ts", ts))
		return true
	}

	age := v.now().Unix() - sec
	if age > int64(maxAge/time.Second) {
		v.logger.Warn("Webhook rejected as stale", zap.Int64("age_seconds", age))
		return true
	}
	return false
}
