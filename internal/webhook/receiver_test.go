package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func signedRequest(t *testing.T, e Event, secret string, mutate func([]byte) []byte) *http.Request {
	t.Helper()
	body, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	sig := Sign(body, secret)
	if mutate != nil {
		body = mutate(body)
	}
	req := httptest.NewRequest(http.MethodPost, "/hook", bytes.NewReader(body))
	req.Header.Set(HeaderSignature, sig)
	req.Header.Set(HeaderEvent, e.Type)
	req.Header.Set(HeaderDelivery, "d-1")
	return req
}

func TestReceiver(t *testing.T) {
	const secret = "whsec_test"
	event := Event{ID: "evt-1", Type: EventRulesUpdated, Resource: Resource{Type: "feature", Key: "dark_mode"}}

	tests := []struct {
		name       string
		secret     string
		mutate     func([]byte) []byte
		handleErr  error
		wantStatus int
		wantCalled bool
	}{
		{name: "valid delivery", secret: secret, wantStatus: http.StatusNoContent, wantCalled: true},
		{name: "signed with another secret", secret: "other", wantStatus: http.StatusUnauthorized},
		{
			name:       "tampered body",
			secret:     secret,
			mutate:     func(b []byte) []byte { return bytes.Replace(b, []byte("dark_mode"), []byte("light_mode"), 1) },
			wantStatus: http.StatusUnauthorized,
		},
		{name: "handler failure asks for retry", secret: secret, handleErr: errors.New("busy"), wantStatus: http.StatusInternalServerError, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			rc := &Receiver{Secret: secret, Handle: func(_ context.Context, delivery string, e Event) error {
				called = true
				if delivery != "d-1" || e.Resource.Key != "dark_mode" {
					t.Errorf("handled %s %+v", delivery, e)
				}
				return tt.handleErr
			}}

			rr := httptest.NewRecorder()
			rc.ServeHTTP(rr, signedRequest(t, event, tt.secret, tt.mutate))
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}

func TestReceiver_EventHeaderMismatch(t *testing.T) {
	rc := &Receiver{Secret: "s"}
	req := signedRequest(t, Event{Type: EventRulesUpdated}, "s", nil)
	req.Header.Set(HeaderEvent, EventFeatureDeleted)

	rr := httptest.NewRecorder()
	rc.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestReceiver_RejectsGet(t *testing.T) {
	rr := httptest.NewRecorder()
	(&Receiver{Secret: "s"}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/hook", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}
