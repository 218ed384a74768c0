package algolab

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker(t *testing.T) {
	// digest of the exact concatenation apiKey+hostname+path
	sum := sha256.Sum256([]byte("AK" + "h" + "/api/LoginUser"))
	expected := hex.EncodeToString(sum[:])
	assert.Equal(t, expected, Checker("AK", "h", "/api/LoginUser"))
}

func TestCheckerIsLowercaseHex(t *testing.T) {
	got := Checker("key", "www.example.com", "/api/SendOrder")
	require.Len(t, got, 64)
	for _, r := range got {
		assert.True(t, (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f'), "unexpected rune %q", r)
	}
}

func TestCheckerDependsOnEveryInput(t *testing.T) {
	base := Checker("AK", "h", "/api/LoginUser")
	assert.NotEqual(t, base, Checker("AK2", "h", "/api/LoginUser"))
	assert.NotEqual(t, base, Checker("AK", "h2", "/api/LoginUser"))
	assert.NotEqual(t, base, Checker("AK", "h", "/api/LoginUserControl"))
}

func TestSignRequest(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://h/api/SendOrder", nil)
	require.NoError(t, err)

	signRequest(req, "AK", "h", "/api/SendOrder", "hash123")

	assert.Equal(t, "AK", req.Header.Get("APIKEY"))
	assert.Equal(t, "hash123", req.Header.Get("Authorization"))
	assert.Equal(t, Checker("AK", "h", "/api/SendOrder"), req.Header.Get("Checker"))
}

func TestSignRequestWithoutHash(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://h/api/LoginUser", nil)
	require.NoError(t, err)

	signRequest(req, "AK", "h", "/api/LoginUser", "")

	assert.Equal(t, "AK", req.Header.Get("APIKEY"))
	assert.Empty(t, req.Header.Values("Authorization"))
	assert.NotEmpty(t, req.Header.Get("Checker"))
}
