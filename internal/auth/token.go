package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrTokenFormat   = errors.New("invalid token format")
	ErrTokenSig      = errors.New("invalid token signature")
	ErrTokenExp      = errors.New("token expired")
	ErrTokenInstance = errors.New("instance id mismatch")
)

// GenerateControlToken builds an operator token for one agent instance.
// Format: base64url(instance_id + "." + exp_unix + "." + hex(hmac_sha256(secret, instance_id+"."+exp)))
func GenerateControlToken(secret, instanceID string, expUnix int64) (string, error) {
	if secret == "" {
		return "", errors.New("empty token secret")
	}
	if strings.Contains(instanceID, ".") {
		return "", ErrTokenFormat
	}
	msg := instanceID + "." + strconv.FormatInt(expUnix, 10)
	raw := msg + "." + sign(secret, msg)
	return base64.RawURLEncoding.EncodeToString([]byte(raw)), nil
}

// ValidateControlToken parses and validates the token and returns the
// embedded instance ID and expiry. A token is accepted up to skewSeconds
// past its expiry.
func ValidateControlToken(secret, token, expectInstanceID string, now time.Time, skewSeconds int) (string, int64, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	parts := strings.Split(string(b), ".")
	if len(parts) != 3 {
		return "", 0, ErrTokenFormat
	}
	id, expStr, sigHex := parts[0], parts[1], parts[2]
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	got, err := hex.DecodeString(sigHex)
	if err != nil {
		return "", 0, ErrTokenFormat
	}
	want, _ := hex.DecodeString(sign(secret, id+"."+expStr))
	// constant-time compare
	if !hmac.Equal(want, got) {
		return "", 0, ErrTokenSig
	}
	if expectInstanceID != "" && id != expectInstanceID {
		return "", 0, ErrTokenInstance
	}
	if now.Unix() > exp+int64(skewSeconds) {
		return "", 0, ErrTokenExp
	}
	return id, exp, nil
}

func sign(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}
