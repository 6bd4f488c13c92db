package fallen

import "fmt"

// Identify derives the ledger identity for a record from its name and date text.
func Identify(h Hasher, r BriefRecord) (Identity, error) {
	digest, err := h.Hash([]byte(r.Name + "_" + r.DateOfDeathText))
	if err != nil {
		return "", fmt.Errorf("hash record identity: %w", err)
	}
	return Identity(digest), nil
}
