package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"altregime/internal/model"
)

func sampleDivergence() model.Divergence {
	return model.Divergence{
		Metric:       model.MetricTOTAL3,
		Timeframe:    model.TF4h,
		Indicator:    model.IndRSI,
		Side:         model.SideBullish,
		Implication:  model.BullishAlts,
		Status:       model.StatusConfirmed,
		Grade:        model.GradeHard,
		Score:        0.72,
		Text:         "price LL vs RSI HL",
	}
}

type flakyBackend struct {
	failures int // fail this many times before succeeding
	calls    int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Send(context.Context, model.Divergence) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return nil
}

func TestDispatcher_RetriesTransientFailures(t *testing.T) {
	b := &flakyBackend{failures: 2}
	n := NewDispatcher(nil, b)

	n.NotifyDivergence(context.Background(), sampleDivergence())

	if b.calls != 3 {
		t.Errorf("calls: got %d, want 3 (two failures then success)", b.calls)
	}
}

func TestDispatcher_ExhaustedRetriesMoveOn(t *testing.T) {
	dead := &flakyBackend{failures: 100}
	alive := &flakyBackend{}
	n := NewDispatcher(nil, dead, alive)

	n.NotifyDivergence(context.Background(), sampleDivergence())

	if dead.calls != 4 {
		t.Errorf("dead backend calls: got %d, want 4 (initial + 3 retries)", dead.calls)
	}
	if alive.calls != 1 {
		t.Errorf("second backend must still be tried, calls=%d", alive.calls)
	}
}

func TestWebhookBackend_PostsAlertJSON(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: got %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := NewWebhookBackend(srv.URL)
	if err := b.Send(context.Background(), sampleDivergence()); err != nil {
		t.Fatalf("send: %v", err)
	}

	var d model.Divergence
	if err := json.Unmarshal(got["divergence"], &d); err != nil {
		t.Fatalf("divergence payload: %v", err)
	}
	if d.Metric != model.MetricTOTAL3 || d.Grade != model.GradeHard {
		t.Errorf("payload round trip: %+v", d)
	}
}

func TestWebhookBackend_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookBackend(srv.URL).Send(context.Background(), sampleDivergence()); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestAlertText(t *testing.T) {
	text := alertText(sampleDivergence())
	for _, want := range []string{"bullish", "RSI", "TOTAL3", "4h", "hard", "bullish_alts"} {
		if !strings.Contains(text, want) {
			t.Errorf("alert text missing %q: %s", want, text)
		}
	}
}
