package audit

import (
	"errors"
	"fmt"

	id "veritas/pkg/domain"
)

var ErrChainIntegrity = errors.New("audit chain integrity violation")

// ChainIntegrityError locates the first entry that does not verify.
type ChainIntegrityError struct {
	Index   int
	EntryID id.AuditEntryID
	Reason  string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("audit chain broken at index %d (entry %s): %s", e.Index, e.EntryID, e.Reason)
}

func (e *ChainIntegrityError) Unwrap() error { return ErrChainIntegrity }

// VerifyChain checks entries in creation order. It reports the first entry
// whose link to its predecessor or whose own hash does not match.
func VerifyChain(entries []*Entry) (bool, error) {
	prev := ""
	for i, e := range entries {
		if e.PreviousHash != prev {
			reason := "previous hash does not match preceding entry"
			if i == 0 {
				reason = "first entry has a non-empty previous hash"
			}
			return false, &ChainIntegrityError{Index: i, EntryID: e.ID, Reason: reason}
		}
		computed, err := ComputeHash(prev, e)
		if err != nil {
			return false, fmt.Errorf("recompute hash at index %d: %w", i, err)
		}
		if computed != e.Hash {
			return false, &ChainIntegrityError{Index: i, EntryID: e.ID,
				Reason: fmt.Sprintf("stored hash %s does not match computed %s", e.Hash, computed)}
		}
		prev = e.Hash
	}
	return true, nil
}
