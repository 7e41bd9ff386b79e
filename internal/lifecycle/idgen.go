package lifecycle

import (
	"crypto/rand"
	"encoding/hex"
)

// generateID returns 8 random hex characters, the decision id format used
// throughout the corpus.
func generateID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
