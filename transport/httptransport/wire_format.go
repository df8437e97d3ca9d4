package httptransport

import (
	outboxkit "github.com/c0deZ3R0/go-outbox-kit"
)

// batchRequest is the JSON body posted to the batch endpoint.
type batchRequest struct {
	Items []outboxkit.SubmitItem `json:"items"`
}

// batchResponse is the JSON body returned by the batch endpoint. The result
// id set must be a subset of the submitted id set; the dispatcher treats
// absent ids as transient failures.
type batchResponse struct {
	Results []outboxkit.ItemResult `json:"results"`
}
