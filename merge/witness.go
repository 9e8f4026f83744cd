package merge

import (
	"crypto/rand"
	"encoding/base64"
)

// witnessBytes is the entropy of the server side witness that replaces a
// contest payload on merge to main: 48 bytes, base64 encoded.
const witnessBytes = 48

// NewWitness returns a fresh cryptographically random witness value. The
// merged-into-main object carries this instead of the voter's payload, so
// main branch content cannot be re-linked to a voter by content alone while
// the voter's digest stays reachable through the merge ancestry.
func NewWitness() (string, error) {
	b := make([]byte, witnessBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
