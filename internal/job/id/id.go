// Package id generates unique render job identifiers. Work dirs and output
// filenames are derived from these, so they must never collide across
// concurrent renders.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// randomBytes is the entropy appended after the timestamp. Six bytes keeps
// collisions implausible even for submissions within the same second.
const randomBytes = 6

// Generate returns a job ID of the form "job-<unix>-<hex>",
// e.g. "job-1756540800-9f2ab41c03de".
func Generate() string {
	ts := time.Now().Unix()

	buf := make([]byte, randomBytes)
	if _, err := rand.Read(buf); err != nil {
		// Timestamp-only IDs still work for low-volume single submissions.
		return fmt.Sprintf("job-%d", ts)
	}
	return fmt.Sprintf("job-%d-%s", ts, hex.EncodeToString(buf))
}
