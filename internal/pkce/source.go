package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"math/big"
)

const MethodS256 = "S256"

type PKCE struct {
	Verifier  string
	Challenge string
	Method    string
}

// Source mints the random values used by the authorization code flow.
// All randomness comes from crypto/rand; a broken entropy source aborts
// the process inside the runtime, so no error is surfaced here.
type Source struct{}

func (p Source) randBytes(n int) []byte {
	b := make([]byte, n)
	_, _ = rand.Read(b)

	return b
}

func (p Source) randString(n int) string {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	ret := make([]byte, n)
	for i := range n {
		num, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		ret[i] = letters[num.Int64()]
	}

	return string(ret)
}

// Verifier returns a fresh code verifier: 32 random bytes, URL-safe base64
// without padding, which lands at 43 characters, inside the 43..128 range
// RFC 7636 requires.
func (p Source) Verifier() string {
	const n = 32

	buf := make([]byte, base64.RawURLEncoding.EncodedLen(n))
	base64.RawURLEncoding.Encode(buf, p.randBytes(n))

	return string(buf)
}

// Challenge derives the S256 code challenge for a verifier. Deterministic:
// the same verifier always yields the same challenge.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	buf := make([]byte, base64.RawURLEncoding.EncodedLen(len(sum)))
	base64.RawURLEncoding.Encode(buf, sum[:])

	return string(buf)
}

// PKCE returns a fresh verifier/challenge pair.
func (p Source) PKCE() PKCE {
	verifier := p.Verifier()

	return PKCE{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}
}

// State returns the CSRF-binding state parameter, sampled independently of
// the verifier.
func (p Source) State() string {
	const n = 32

	buf := make([]byte, base64.RawURLEncoding.EncodedLen(n))
	base64.RawURLEncoding.Encode(buf, p.randBytes(n))

	return string(buf)
}

func (p Source) SessionID() string {
	return p.randString(32) // Entropy E = L * log2(63) = 32 * log2(63) = 191.3 bits
}
