package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// TimestampPrecision is the resolution entries are stored and hashed at.
// PostgreSQL keeps microseconds, so hashing anything finer would break
// verification after a round trip.
const TimestampPrecision = time.Microsecond

type canonicalEntry struct {
	EntityType EntityType     `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     Action         `json:"action"`
	UserID     string         `json:"userId"`
	Metadata   map[string]any `json:"metadata"`
	Timestamp  string         `json:"timestamp"`
}

// Canonical returns the RFC 8785 form of the hashed fields of e.
func Canonical(e *Entry) ([]byte, error) {
	c := canonicalEntry{
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Action:     e.Action,
		Metadata:   e.Metadata,
		Timestamp:  e.CreatedAt.UTC().Truncate(TimestampPrecision).Format(time.RFC3339Nano),
	}
	if !e.UserID.IsNil() {
		c.UserID = e.UserID.String()
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal audit entry: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit entry: %w", err)
	}
	return out, nil
}

// ComputeHash returns hex(SHA-256(previousHash || canonical(e))).
func ComputeHash(previousHash string, e *Entry) (string, error) {
	canonical, err := Canonical(e)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
