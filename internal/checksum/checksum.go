// Package checksum computes stable SHA-256 digests over transaction payloads
// and batch envelopes so integrity can be verified end-to-end.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"pos-forwarder/internal/model"
)

// ChecksumField is the payload field stripped before digesting.
const ChecksumField = "checksum"

// batchDelimiter joins envelope identity fields and transaction checksums.
const batchDelimiter = "|"

// Compute canonicalizes record, removes excludeField at the top level and
// inside nested "transaction"/"transactions" entries, and returns a 64-hex
// SHA-256 digest. The digest is independent of map insertion order because
// canonical serialization sorts object keys.
func Compute(record map[string]any, excludeField string) (string, error) {
	stripped := stripField(record, excludeField)

	canonical, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("checksum canonicalization failed: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ComputePayload digests a transaction payload with its checksum field
// excluded, so the attached checksum never feeds its own computation.
func ComputePayload(p model.TransactionPayload) (string, error) {
	record, err := toRecord(p)
	if err != nil {
		return "", err
	}
	return Compute(record, ChecksumField)
}

// Validate recomputes the digest of record and compares it to provided using
// constant-time equality.
func Validate(record map[string]any, provided string) (bool, error) {
	computed, err := Compute(record, ChecksumField)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(provided)) == 1, nil
}

// ComputeBatch digests envelope identity fields together with the set of
// transaction checksums. Checksums are sorted first, so the result is stable
// under re-ordering of transactions within the batch but changes whenever any
// transaction's own checksum changes.
func ComputeBatch(schemaVersion, source, batchID, tenantID, terminalID string, count int, txChecksums []string) string {
	sorted := make([]string, len(txChecksums))
	copy(sorted, txChecksums)
	sort.Strings(sorted)

	parts := []string{
		schemaVersion,
		source,
		batchID,
		tenantID,
		terminalID,
		fmt.Sprintf("%d", count),
	}
	parts = append(parts, sorted...)

	sum := sha256.Sum256([]byte(strings.Join(parts, batchDelimiter)))
	return hex.EncodeToString(sum[:])
}

// toRecord converts a struct to its canonical map form via a JSON round trip.
func toRecord(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("checksum record conversion failed: %w", err)
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("checksum record conversion failed: %w", err)
	}
	return record, nil
}

// stripField deep-copies record, dropping field at the top level and inside
// nested "transaction" objects and "transactions" arrays.
func stripField(record map[string]any, field string) map[string]any {
	out := make(map[string]any, len(record))
	for key, value := range record {
		if key == field {
			continue
		}
		switch key {
		case "transaction":
			if nested, ok := value.(map[string]any); ok {
				out[key] = stripField(nested, field)
				continue
			}
		case "transactions":
			if list, ok := value.([]any); ok {
				copied := make([]any, len(list))
				for i, item := range list {
					if nested, ok := item.(map[string]any); ok {
						copied[i] = stripField(nested, field)
					} else {
						copied[i] = item
					}
				}
				out[key] = copied
				continue
			}
		}
		out[key] = value
	}
	return out
}
