package algolab

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

// Header names attached to every signed request.
const (
	apiKeyHeader  = "APIKEY"
	authHeader    = "Authorization"
	checkerHeader = "Checker"
)

// Checker computes the per-request integrity value: the lowercase hex
// SHA-256 digest of apiKey followed by hostname followed by the request
// path. The path must be the exact path the request is sent to,
// including the leading slash.
func Checker(apiKey, hostname, path string) string {
	h := sha256.New()
	h.Write([]byte(apiKey))
	h.Write([]byte(hostname))
	h.Write([]byte(path))
	return hex.EncodeToString(h.Sum(nil))
}

// signRequest attaches the APIKEY, Authorization and Checker headers for
// the given path. hash is the current session hash and may be empty for
// the pre-authentication login calls, in which case the Authorization
// header is omitted.
func signRequest(req *http.Request, apiKey, hostname, path, hash string) {
	req.Header.Set(apiKeyHeader, apiKey)
	if hash != "" {
		req.Header.Set(authHeader, hash)
	}
	req.Header.Set(checkerHeader, Checker(apiKey, hostname, path))
}
