package callctl_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/softspoken-ai/dialtone/internal/callctl"
)

func TestHangup(t *testing.T) {
	t.Parallel()
	var gotPath, gotStatus, gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotStatus = r.PostFormValue("Status")
		gotUser, _, _ = r.BasicAuth()
		w.Write([]byte(`{"status": "completed"}`))
	}))
	defer srv.Close()

	c, err := callctl.New("AC123", "secret", callctl.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Hangup(context.Background(), "CA456"); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if gotPath != "/2010-04-01/Accounts/AC123/Calls/CA456.json" {
		t.Errorf("path: %q", gotPath)
	}
	if gotStatus != "completed" {
		t.Errorf("Status form value: %q", gotStatus)
	}
	if gotUser != "AC123" {
		t.Errorf("basic auth user: %q", gotUser)
	}
}

func TestHangup_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "call is not in progress"}`, http.StatusConflict)
	}))
	defer srv.Close()

	c, err := callctl.New("AC123", "secret", callctl.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Hangup(context.Background(), "CA456"); err == nil {
		t.Error("expected error on HTTP 409")
	}
}

func TestNew_RequiresCredentials(t *testing.T) {
	t.Parallel()
	if _, err := callctl.New("", "secret"); err == nil {
		t.Error("expected error on empty account SID")
	}
	if _, err := callctl.New("AC123", ""); err == nil {
		t.Error("expected error on empty auth token")
	}
}

func TestHangup_RequiresCallSID(t *testing.T) {
	t.Parallel()
	c, err := callctl.New("AC123", "secret")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Hangup(context.Background(), ""); err == nil {
		t.Error("expected error on empty call SID")
	}
}
