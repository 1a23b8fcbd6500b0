package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxEventBodySize = 1 << 20

// Receiver is the consumer side of a delivery. It rejects requests whose signature does
// not verify against Secret and passes decoded events to Handle.
type Receiver struct {
	Secret string
	Handle func(ctx context.Context, delivery string, e Event) error
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodySize))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	if err := Verify(body, r.Header.Get(HeaderSignature), rc.Secret); err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if h := r.Header.Get(HeaderEvent); h != "" && h != e.Type {
		http.Error(w, "event header does not match body", http.StatusBadRequest)
		return
	}

	if rc.Handle != nil {
		if err := rc.Handle(r.Context(), r.Header.Get(HeaderDelivery), e); err != nil {
			// 5xx asks the dispatcher to retry
			status := http.StatusInternalServerError
			if errors.Is(err, context.Canceled) {
				status = http.StatusServiceUnavailable
			}
			http.Error(w, err.Error(), status)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
