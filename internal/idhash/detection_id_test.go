package idhash

import (
	"testing"
	"time"
)

func TestComputeDetectionID(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		accountID  string
		productID  string
		detectedAt time.Time
	}{
		{name: "plain", accountID: "ACC001", productID: "IBM", detectedAt: base},
		{name: "sub-second", accountID: "ACC001", productID: "IBM", detectedAt: base.Add(1500 * time.Millisecond)},
		{name: "empty ids", accountID: "", productID: "", detectedAt: base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeDetectionID(tt.accountID, tt.productID, tt.detectedAt)

			if len(got) != 64 {
				t.Errorf("ComputeDetectionID() length = %d, want 64", len(got))
			}

			// Same inputs should produce same output
			again := ComputeDetectionID(tt.accountID, tt.productID, tt.detectedAt)
			if got != again {
				t.Errorf("ComputeDetectionID() not deterministic: %s != %s", got, again)
			}
		})
	}
}

func TestComputeDetectionID_DifferentInputs(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	id1 := ComputeDetectionID("ACC001", "IBM", base)
	id2 := ComputeDetectionID("ACC001", "AAPL", base)
	id3 := ComputeDetectionID("ACC002", "IBM", base)
	id4 := ComputeDetectionID("ACC001", "IBM", base.Add(time.Nanosecond))

	ids := map[string]bool{id1: true, id2: true, id3: true, id4: true}
	if len(ids) != 4 {
		t.Error("Different inputs should produce different IDs")
	}
}

func TestComputeDetectionID_SameInstantDifferentZone(t *testing.T) {
	utc := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	shifted := utc.In(time.FixedZone("UTC+2", 2*60*60))

	if ComputeDetectionID("ACC001", "IBM", utc) != ComputeDetectionID("ACC001", "IBM", shifted) {
		t.Error("Same instant in different zones should produce the same ID")
	}
}
