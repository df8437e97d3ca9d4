package outboxkit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewIdempotencyKey derives a stable, collision-resistant key from the
// operation name, payload, enqueue time and a random nonce. It is computed
// exactly once at enqueue time; retries of the same operation always carry
// the same key so the server can collapse repeated submissions.
func NewIdempotencyKey(name string, payload []byte, enqueuedAt time.Time, nonce uuid.UUID) string {
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write(payload)
	h.Write([]byte{0})
	h.Write([]byte(enqueuedAt.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte{0})
	h.Write(nonce[:])
	return hex.EncodeToString(h.Sum(nil))
}
