// Package nonce produces the random values handed out to clients: CSRF state
// tokens and session identifiers.
package nonce

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
)

// csrfTokenSize is 128 bits of entropy.
const csrfTokenSize = 16

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

// CSRFToken returns a hex encoded 128-bit random value.
func (p Source) CSRFToken() string {
	return hex.EncodeToString(p.randBytes(csrfTokenSize))
}

func (p Source) SessionID() string {
	return p.randString(32) // Entropy E = L * log2(63) = 32 * log2(63) = 191.3 bits
}
