// Package testutil starts a real API server over an in-memory store for tests of the
// packages that talk to it.
package testutil

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TimurManjosov/flagrules/internal/api"
	"github.com/TimurManjosov/flagrules/internal/auth"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/store"
)

// Keys accepted by servers from NewTestServer.
const (
	AdminKey  = "admin-test"
	ClientKey = "client-test"
)

// Fixture is a running test server.
type Fixture struct {
	Server *api.Server
	Store  *store.MemoryStore
	HTTP   *httptest.Server
}

// URL is the server's base URL.
func (f *Fixture) URL() string { return f.HTTP.URL }

// NewTestServer seeds an in-memory store with features, builds the snapshot for env and
// serves the API until the test ends.
func NewTestServer(t *testing.T, env string, features ...rules.Feature) *Fixture {
	t.Helper()
	memStore := store.NewMemoryStore()
	if err := SeedFeatures(context.Background(), memStore, features); err != nil {
		t.Fatalf("seed: %v", err)
	}

	server := api.NewServer(memStore, env, auth.Credentials{AdminKey: AdminKey, ClientKey: ClientKey})
	if err := server.RebuildSnapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &Fixture{Server: server, Store: memStore, HTTP: ts}
}

// BooleanFeature returns a valid on/off feature that serves "off" by default.
func BooleanFeature(key, env string) rules.Feature {
	return rules.Feature{
		Identifier:          key,
		Kind:                rules.KindBoolean,
		Variations:          []rules.Variation{{Identifier: "on", Value: "true"}, {Identifier: "off", Value: "false"}},
		DefaultOnVariation:  "on",
		DefaultOffVariation: "off",
		EnvProperties: rules.EnvProperties{
			Environment:  env,
			State:        rules.StateOn,
			OffVariation: "off",
			DefaultServe: rules.FixedServe("off"),
		},
	}
}

// HTTPRequest is a helper for making test HTTP requests.
type HTTPRequest struct {
	Method  string
	Path    string
	Body    string
	Headers map[string]string
}

// Do executes the HTTP request against handler and returns the response recorder.
func (r *HTTPRequest) Do(t *testing.T, handler http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if r.Body != "" {
		body = bytes.NewBufferString(r.Body)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

// SeedFeatures populates the store with features.
func SeedFeatures(ctx context.Context, st store.Store, features []rules.Feature) error {
	for _, f := range features {
		if _, err := st.UpsertFeature(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
