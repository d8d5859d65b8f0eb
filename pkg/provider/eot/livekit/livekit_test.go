package livekit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	"github.com/softspoken-ai/dialtone/pkg/provider/eot/livekit"
)

type recordedRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestPredict(t *testing.T) {
	t.Parallel()
	var got recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/predict" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]float64{"probability": 0.82})
	}))
	defer srv.Close()

	p, err := livekit.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	prob, err := p.Predict(context.Background(), []eot.Message{
		{Role: eot.RoleAssistant, Text: "Is Tuesday at two okay?"},
		{Role: eot.RoleUser, Text: "Yes, that works!"},
	})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if prob != 0.82 {
		t.Errorf("probability: got %f, want 0.82", prob)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages sent: got %d, want 2", len(got.Messages))
	}
	if got.Messages[1].Content != "yes that works" {
		t.Errorf("normalization not applied: %q", got.Messages[1].Content)
	}
	if got.Messages[0].Role != "assistant" || got.Messages[1].Role != "user" {
		t.Errorf("roles: %q %q", got.Messages[0].Role, got.Messages[1].Role)
	}
}

func TestPredict_TruncatesHistory(t *testing.T) {
	t.Parallel()
	var got recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]float64{"probability": 0.5})
	}))
	defer srv.Close()

	p, err := livekit.New(srv.URL, livekit.WithMaxTurns(2))
	if err != nil {
		t.Fatal(err)
	}
	history := []eot.Message{
		{Role: eot.RoleUser, Text: "one"},
		{Role: eot.RoleAssistant, Text: "two"},
		{Role: eot.RoleUser, Text: "three"},
	}
	if _, err := p.Predict(context.Background(), history); err != nil {
		t.Fatal(err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("messages sent: got %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Content != "two" {
		t.Errorf("wrong truncation: first sent message %q", got.Messages[0].Content)
	}
}

func TestPredict_Errors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := livekit.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	user := []eot.Message{{Role: eot.RoleUser, Text: "hello"}}

	if _, err := p.Predict(context.Background(), user); err == nil {
		t.Error("expected error on HTTP 503")
	}
	if _, err := p.Predict(context.Background(), nil); err == nil {
		t.Error("expected error on empty history")
	}
	if _, err := p.Predict(context.Background(), []eot.Message{{Role: eot.RoleAssistant, Text: "hi"}}); err == nil {
		t.Error("expected error when history does not end with a user message")
	}
}

func TestPredict_RejectsOutOfRangeProbability(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]float64{"probability": 1.7})
	}))
	defer srv.Close()

	p, err := livekit.New(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Predict(context.Background(), []eot.Message{{Role: eot.RoleUser, Text: "hello"}}); err == nil {
		t.Error("expected error on out-of-range probability")
	}
}
