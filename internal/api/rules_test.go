package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TimurManjosov/flagrules/internal/audit"
	"github.com/TimurManjosov/flagrules/internal/engine"
	"github.com/TimurManjosov/flagrules/internal/rules"
	"github.com/TimurManjosov/flagrules/internal/snapshot"
	"github.com/TimurManjosov/flagrules/internal/webhook"
)

func twoRules(version int64) rules.EnvProperties {
	return rules.EnvProperties{
		State:        rules.StateOn,
		OffVariation: "off",
		DefaultServe: rules.FixedServe("off"),
		Version:      version,
		Rules: []rules.Rule{
			{
				RuleID:   "later",
				Priority: 250,
				Clauses:  []rules.Clause{{Attribute: "country", Op: rules.OpIn, Values: []string{"DE"}}},
				Serve:    rules.FixedServe("on"),
			},
			{
				RuleID:   "first",
				Priority: 100,
				Clauses:  []rules.Clause{{Attribute: "plan", Op: rules.OpEqual, Values: []string{"pro"}}},
				Serve:    rules.FixedServe("on"),
			},
		},
		VariationMap: []rules.Serving{{Variation: "on", Targets: []rules.Target{{Identifier: "alice"}}}},
	}
}

func TestSaveRules_RenumbersAndBumpsVersion(t *testing.T) {
	_, h, _ := newTestServer(t)
	before := snapshot.Load().ETag

	rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, twoRules(1))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[saveRulesResponse](t, rr)
	props := resp.EnvProperties

	if props.Version != 2 {
		t.Errorf("version = %d, want 2", props.Version)
	}
	if len(props.Rules) != 2 || props.Rules[0].RuleID != "later" || props.Rules[0].Priority != 100 ||
		props.Rules[1].RuleID != "first" || props.Rules[1].Priority != 200 {
		t.Errorf("rules = %+v", props.Rules)
	}
	if resp.ETag == before || snapshot.Load().ETag != resp.ETag {
		t.Errorf("snapshot etag not refreshed: before %s, resp %s", before, resp.ETag)
	}
	f, _ := snapshot.Load().Get("dark_mode")
	if len(f.EnvProperties.VariationMap) != 1 {
		t.Errorf("snapshot variation map = %+v", f.EnvProperties.VariationMap)
	}
}

func TestSaveRules_KeepsSubmittedOrderLikeFeatureUpsert(t *testing.T) {
	_, h, _ := newTestServer(t)

	rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, twoRules(1))
	if rr.Code != http.StatusOK {
		t.Fatalf("save rules status = %d: %s", rr.Code, rr.Body.String())
	}
	viaRules := decode[saveRulesResponse](t, rr).EnvProperties.Rules

	f := newFeature("dark_mode")
	f.EnvProperties = twoRules(0)
	f.EnvProperties.Environment = "prod"
	rr = do(t, h, http.MethodPut, "/v1/features/dark_mode", adminKey, f)
	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d: %s", rr.Code, rr.Body.String())
	}
	viaUpsert := decode[rules.Feature](t, rr).EnvProperties.Rules

	if len(viaRules) != 2 || len(viaUpsert) != 2 {
		t.Fatalf("rules: %+v / %+v", viaRules, viaUpsert)
	}
	for i := range viaRules {
		if viaRules[i].RuleID != viaUpsert[i].RuleID || viaRules[i].Priority != viaUpsert[i].Priority {
			t.Errorf("rule %d: rules endpoint %s@%d, upsert %s@%d", i,
				viaRules[i].RuleID, viaRules[i].Priority, viaUpsert[i].RuleID, viaUpsert[i].Priority)
		}
	}
}

func TestSaveRules_StaleVersionConflicts(t *testing.T) {
	_, h, _ := newTestServer(t)

	if rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, twoRules(1)); rr.Code != http.StatusOK {
		t.Fatalf("first save status = %d", rr.Code)
	}
	rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, twoRules(1))
	if rr.Code != http.StatusConflict {
		t.Fatalf("stale save status = %d, want 409", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Code != ErrCodeConflict {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestSaveRules_IncompleteRuleIsRejected(t *testing.T) {
	_, h, st := newTestServer(t)

	props := twoRules(1)
	props.Rules[1].Clauses[0].Values = nil
	rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, props)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
	resp := decode[ErrorResponse](t, rr)
	if resp.Fields["rules[1].clauses[0].values"] != "Required" {
		t.Errorf("fields = %+v", resp.Fields)
	}
	if len(resp.IncompleteRules) != 1 || resp.IncompleteRules[0] != 1 {
		t.Errorf("incompleteRules = %v", resp.IncompleteRules)
	}

	f, _ := st.GetFeature(context.Background(), "dark_mode", "prod")
	if f.EnvProperties.Version != 1 {
		t.Errorf("invalid save changed the store: version %d", f.EnvProperties.Version)
	}
}

func TestSaveRules_Errors(t *testing.T) {
	_, h, _ := newTestServer(t)

	if rr := do(t, h, http.MethodPut, "/v1/features/missing/rules", adminKey, twoRules(1)); rr.Code != http.StatusNotFound {
		t.Errorf("missing feature status = %d", rr.Code)
	}

	props := twoRules(1)
	props.Environment = "staging"
	if rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, props); rr.Code != http.StatusBadRequest {
		t.Errorf("env mismatch status = %d", rr.Code)
	}

	props = twoRules(1)
	props.DefaultServe = rules.PercentageServe(rules.Distribution{
		BucketBy:   rules.DefaultBucketBy,
		Variations: []rules.WeightedVariation{{Variation: "on", Weight: 80}, {Variation: "off", Weight: 40}},
	})
	rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, props)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overflow status = %d", rr.Code)
	}
	if resp := decode[ErrorResponse](t, rr); resp.Fields["defaultServe.distribution"] == "" {
		t.Errorf("fields = %+v", resp.Fields)
	}
}

func TestSaveRules_EmitsAuditAndWebhook(t *testing.T) {
	received := make(chan string, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Flagship-Event")
	}))
	defer hook.Close()

	sink := &audit.MemorySink{}
	auditSvc := audit.NewService(sink, 10)
	dispatcher := webhook.NewDispatcher([]webhook.Endpoint{{URL: hook.URL, Secret: "s"}})
	dispatcher.Start()
	defer dispatcher.Close()

	_, h, _ := newTestServer(t, WithAudit(auditSvc), WithWebhooks(dispatcher))

	if rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, twoRules(1)); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	select {
	case ev := <-received:
		if ev != webhook.EventRulesUpdated {
			t.Errorf("webhook event = %q", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := auditSvc.Close(ctx); err != nil {
		t.Fatalf("audit close: %v", err)
	}
	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(events))
	}
	e := events[0]
	if e.Action != audit.ActionRulesSaved || e.ResourceID != "dark_mode" || e.Actor.Display != "api_key:admin" {
		t.Errorf("audit event = %+v", e)
	}
	if _, ok := e.Changes["version"]; !ok {
		t.Errorf("changes = %v", e.Changes)
	}
}

func TestValidateRules(t *testing.T) {
	_, h, _ := newTestServer(t)

	props := twoRules(1)
	props.DefaultServe = rules.PercentageServe(rules.Distribution{
		BucketBy:   rules.DefaultBucketBy,
		Variations: []rules.WeightedVariation{{Variation: "on", Weight: 50}, {Variation: "off", Weight: 50}},
	})
	rr := do(t, h, http.MethodPost, "/v1/features/dark_mode/validate", clientKey, props)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{`"valid":true`, `"HAS_SERVING_TARGETS"`, `"HAS_CUSTOM_RULES"`, `"HAS_PERCENTAGE_DEFAULT"`, `"incompleteRules":[]`} {
		if !strings.Contains(body, want) {
			t.Errorf("response missing %s: %s", want, body)
		}
	}

	props.Rules[0].Clauses[0].Values = nil
	rr = do(t, h, http.MethodPost, "/v1/features/dark_mode/validate", clientKey, props)
	if !strings.Contains(rr.Body.String(), `"incompleteRules":[0]`) {
		t.Errorf("expected rule 0 incomplete: %s", rr.Body.String())
	}
}

func TestEvaluate(t *testing.T) {
	_, h, _ := newTestServer(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantReason engine.Reason
		wantVar    string
	}{
		{
			name:       "rule match",
			body:       map[string]any{"feature": "dark_mode", "target": map[string]any{"identifier": "u1", "attributes": map[string]any{"plan": "pro"}}},
			wantStatus: http.StatusOK, wantReason: engine.ReasonRuleMatch, wantVar: "on",
		},
		{
			name:       "default",
			body:       map[string]any{"feature": "dark_mode", "target": map[string]any{"identifier": "u1"}},
			wantStatus: http.StatusOK, wantReason: engine.ReasonDefault, wantVar: "off",
		},
		{
			name:       "unknown feature",
			body:       map[string]any{"feature": "nope", "target": map[string]any{"identifier": "u1"}},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing target",
			body:       map[string]any{"feature": "dark_mode"},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, h, http.MethodPost, "/v1/evaluate", clientKey, tt.body)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decode[evaluateResponse](t, rr)
			if len(resp.Results) != 1 || resp.Results[0].Reason != tt.wantReason || resp.Results[0].Variation != tt.wantVar {
				t.Errorf("results = %+v", resp.Results)
			}
		})
	}

	rr := do(t, h, http.MethodPost, "/v1/evaluate", clientKey, map[string]any{"target": map[string]any{"identifier": "u1"}})
	if resp := decode[evaluateResponse](t, rr); len(resp.Results) != 1 || resp.ETag == "" {
		t.Errorf("evaluate all = %+v", resp)
	}
}

func TestSegments(t *testing.T) {
	_, h, st := newTestServer(t)

	seg := rules.Segment{Identifier: "beta", Included: []string{"carol"}}
	if rr := do(t, h, http.MethodPut, "/v1/segments/beta", adminKey, seg); rr.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, h, http.MethodGet, "/v1/segments/beta", clientKey, nil); rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/v1/segments/gamma", clientKey, nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing status = %d", rr.Code)
	}
	bad := rules.Segment{Rules: []rules.Clause{{Attribute: "plan", Op: rules.OpEqual}}}
	if rr := do(t, h, http.MethodPut, "/v1/segments/bad", adminKey, bad); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid segment status = %d", rr.Code)
	}

	props := twoRules(1)
	props.VariationMap = nil
	props.Rules = []rules.Rule{{
		RuleID:  "beta",
		Clauses: []rules.Clause{{Op: rules.OpSegmentMatch, Values: []string{"beta"}}},
		Serve:   rules.FixedServe("on"),
	}}
	if rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, props); rr.Code != http.StatusOK {
		t.Fatalf("save status = %d: %s", rr.Code, rr.Body.String())
	}

	rr := do(t, h, http.MethodPost, "/v1/evaluate", clientKey,
		map[string]any{"feature": "dark_mode", "target": map[string]any{"identifier": "carol"}})
	resp := decode[evaluateResponse](t, rr)
	if len(resp.Results) != 1 || resp.Results[0].RuleID != "beta" {
		t.Errorf("results = %+v", resp.Results)
	}

	list, _ := st.ListSegments(context.Background())
	if len(list) != 1 {
		t.Errorf("segments in store = %d", len(list))
	}
}

func TestStream_InitAndUpdate(t *testing.T) {
	_, h, _ := newTestServer(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", nil)
	req.Header.Set("Authorization", "Bearer "+clientKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := make(chan string, 4)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
		close(events)
	}()

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-events:
			if got != want {
				t.Fatalf("event = %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	expect("init")
	if rr := do(t, h, http.MethodPut, "/v1/features/dark_mode/rules", adminKey, twoRules(1)); rr.Code != http.StatusOK {
		t.Fatalf("save status = %d", rr.Code)
	}
	expect("update")

	cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
}
