package session

import (
	"crypto/rand"
	"math/big"
)

// idAlphabet omits ambiguous glyphs I, O, 1, 0 (spec §3, §6).
const idAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const idLength = 6

// NewID generates a candidate 6-character session id. Uniqueness against
// existing sessions is the caller's responsibility (see lifecycle's
// reservation loop).
func NewID() (string, error) {
	buf := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf), nil
}
