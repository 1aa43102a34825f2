package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(account_id|product_id|timestamp_unix_nanos|seq|event_type|side)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(
	accountID string,
	productID string,
	timestamp time.Time,
	seq int64,
	eventType string,
	side string,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%s|%s",
		accountID,
		productID,
		timestamp.UnixNano(),
		seq,
		eventType,
		side,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
