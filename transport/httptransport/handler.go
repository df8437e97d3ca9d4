package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
)

// BatchProcessor is the server-side counterpart of the Transport contract:
// it applies a batch and returns one outcome per item, deduplicating on the
// idempotency key.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, items []outboxkit.SubmitItem) ([]outboxkit.ItemResult, error)
}

// Handler adapts a BatchProcessor to the HTTP wire format the Client speaks.
type Handler struct {
	processor    BatchProcessor
	maxBodyBytes int64
}

// NewHandler creates a batch HTTP handler.
func NewHandler(processor BatchProcessor) *Handler {
	return &Handler{
		processor:    processor,
		maxBodyBytes: 8 << 20, // 8MB
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req batchRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results, err := h.processor.ProcessBatch(r.Context(), req.Items)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	for _, res := range results {
		if res.Outcome != outboxkit.OutcomeSuccess && res.Outcome != outboxkit.OutcomeDuplicate {
			status = http.StatusMultiStatus
			break
		}
	}
	respondWithJSON(w, status, batchResponse{Results: results})
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
