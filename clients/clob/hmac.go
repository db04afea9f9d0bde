package clob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// sanitizeBase64Secret accepts base64url secrets and drops characters outside
// the base64 alphabet, re-padding to a multiple of four.
func sanitizeBase64Secret(secret string) string {
	secret = strings.TrimSpace(secret)
	secret = strings.ReplaceAll(secret, "-", "+")
	secret = strings.ReplaceAll(secret, "_", "/")

	var b strings.Builder
	b.Grow(len(secret))
	for i := 0; i < len(secret); i++ {
		ch := secret[i]
		switch {
		case ch >= 'A' && ch <= 'Z', ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9':
			b.WriteByte(ch)
		case ch == '+' || ch == '/' || ch == '=':
			b.WriteByte(ch)
		}
	}
	out := b.String()
	if rem := len(out) % 4; rem != 0 {
		out += strings.Repeat("=", 4-rem)
	}
	return out
}

// buildPolyHmacSignature signs timestamp + method + requestPath + body and
// returns url-safe base64 that keeps the '=' padding.
func buildPolyHmacSignature(secret string, timestamp int64, method, requestPath string, body []byte) (string, error) {
	var sb strings.Builder
	sb.Grow(32 + len(method) + len(requestPath) + len(body))
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteString(method)
	sb.WriteString(requestPath)
	sb.Write(body)

	decoded, err := base64.StdEncoding.DecodeString(sanitizeBase64Secret(secret))
	if err != nil {
		return "", fmt.Errorf("decode base64 secret: %w", err)
	}

	mac := hmac.New(sha256.New, decoded)
	_, _ = mac.Write([]byte(sb.String()))

	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	sig = strings.ReplaceAll(sig, "+", "-")
	sig = strings.ReplaceAll(sig, "/", "_")
	return sig, nil
}
