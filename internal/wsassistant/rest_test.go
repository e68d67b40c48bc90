package wsassistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectorcore/internal/throttler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallDecodesSuccessResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	a := New(srv.URL, 2*time.Second, throttler.New(), nil, nil, nil, discardLogger())

	var out map[string]string
	err := a.Call(context.Background(), CallParams{Method: "GET", Path: "/ping"}, &out)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("got %v", out)
	}
}

func TestCallReturnsCallErrorOnBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	a := New(srv.URL, 2*time.Second, throttler.New(), nil, nil, nil, discardLogger())

	err := a.Call(context.Background(), CallParams{Method: "GET", Path: "/x"}, nil)
	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected *CallError, got %v", err)
	}
	if callErr.Status != http.StatusBadRequest {
		t.Errorf("status = %d", callErr.Status)
	}
}

func TestCallUsesErrorFlagChecker(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ret_code": 1, "msg": "nope"})
	}))
	defer srv.Close()

	flagged := func(body []byte) error {
		var v struct {
			RetCode int `json:"ret_code"`
		}
		if err := json.Unmarshal(body, &v); err == nil && v.RetCode != 0 {
			return errors.New("venue reported failure")
		}
		return nil
	}

	a := New(srv.URL, 2*time.Second, throttler.New(), nil, nil, flagged, discardLogger())
	err := a.Call(context.Background(), CallParams{Method: "GET", Path: "/x"}, nil)
	if err == nil {
		t.Fatal("expected error from venue flag")
	}
}

func TestCallRequiresSignerWhenAuthenticated(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(srv.URL, 2*time.Second, throttler.New(), nil, nil, nil, discardLogger())
	err := a.Call(context.Background(), CallParams{Method: "GET", Path: "/x", Authenticated: true}, nil)
	if err == nil {
		t.Fatal("expected error when authenticated call has no signer")
	}
}

func TestCallThrottlesByLimitID(t *testing.T) {
	t.Parallel()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	th := throttler.New()
	a := New(srv.URL, 2*time.Second, th, nil, nil, nil, discardLogger())

	for i := 0; i < 3; i++ {
		if err := a.Call(context.Background(), CallParams{Method: "GET", Path: "/x", LimitID: "orders"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls to reach the server, got %d", calls)
	}
}
