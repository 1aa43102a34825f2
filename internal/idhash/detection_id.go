package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeDetectionID computes a deterministic detection_id using SHA256.
// Formula: SHA256(account_id|product_id|detected_at_unix_nanos)
// Returns hex-encoded hash (64 characters).
func ComputeDetectionID(accountID, productID string, detectedAt time.Time) string {
	data := fmt.Sprintf("%s|%s|%d",
		accountID,
		productID,
		detectedAt.UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
