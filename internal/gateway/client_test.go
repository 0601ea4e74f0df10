package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

type body struct {
	Publisher string `json:"publisher_address"`
}

// ── Success ───────────────────────────────────────────────────────────────────

func TestPost_OK(t *testing.T) {
	var gotBody body
	var gotMethod, gotContentType string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		w.Write([]byte(`{"status":"success","data":{"campaignId":"c-1"}}`))
	})

	c := NewClient(nil, zap.NewNop())
	resp := c.Post(context.Background(), srv.URL+"/auction", body{Publisher: "0xPUB"}, "", time.Second)
	if err := resp.Err(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if !resp.OK() {
		t.Error("OK: got false want true")
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Status: got %d want 200", resp.Status)
	}
	if !strings.Contains(string(resp.Payload), `"c-1"`) {
		t.Errorf("Payload: got %s", resp.Payload)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method: got %q want POST", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type: got %q", gotContentType)
	}
	if gotBody.Publisher != "0xPUB" {
		t.Errorf("body publisher: got %q want %q", gotBody.Publisher, "0xPUB")
	}
}

func TestPost_SetsAuthHeaderOnlyWithToken(t *testing.T) {
	var auths []string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		auths = append(auths, r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	})

	c := NewClient(nil, nil)
	c.Post(context.Background(), srv.URL, body{}, "jwt-abc", time.Second)
	c.Post(context.Background(), srv.URL, body{}, "", time.Second)

	if auths[0] != "Bearer jwt-abc" {
		t.Errorf("Authorization with token: got %q want %q", auths[0], "Bearer jwt-abc")
	}
	if auths[1] != "" {
		t.Errorf("Authorization without token: got %q want empty", auths[1])
	}
}

func TestPost_RequestIDHeader(t *testing.T) {
	var gotID string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotID = r.Header.Get("X-Request-Id")
		w.Write([]byte(`{}`))
	})

	resp := NewClient(nil, nil).Post(context.Background(), srv.URL, body{}, "", time.Second)
	if gotID == "" {
		t.Fatal("X-Request-Id header missing")
	}
	if resp.RequestID != gotID {
		t.Errorf("RequestID: got %q want %q", resp.RequestID, gotID)
	}
}

// ── Non-2xx ───────────────────────────────────────────────────────────────────

func TestPost_NonOK_ReturnsHTTPStatusError(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "enclave unavailable")
	})

	resp := NewClient(nil, nil).Post(context.Background(), srv.URL, body{}, "", time.Second)
	if resp.OK() {
		t.Fatal("OK: got true want false")
	}
	if resp.Status != http.StatusBadGateway {
		t.Errorf("Status: got %d want 502", resp.Status)
	}
	want := "HTTP error! status: 502, message: enclave unavailable"
	if resp.Message != want {
		t.Errorf("Message: got %q want %q", resp.Message, want)
	}
	var herr *HTTPStatusError
	if !errors.As(resp.Err(), &herr) {
		t.Fatalf("expected *HTTPStatusError, got %T", resp.Err())
	}
	if herr.Body != "enclave unavailable" {
		t.Errorf("Body: got %q", herr.Body)
	}
}

// ── Timeout / transport ───────────────────────────────────────────────────────

func TestPost_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	start := time.Now()
	resp := NewClient(nil, nil).Post(context.Background(), srv.URL, body{}, "", 50*time.Millisecond)
	elapsed := time.Since(start)

	if resp.Status != StatusTimeout {
		t.Errorf("Status: got %d want %d", resp.Status, StatusTimeout)
	}
	var terr *TimeoutError
	if !errors.As(resp.Err(), &terr) {
		t.Fatalf("expected *TimeoutError, got %T (%v)", resp.Err(), resp.Err())
	}
	if elapsed > 2*time.Second {
		t.Errorf("request was not cancelled promptly: %s", elapsed)
	}
}

func TestPost_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp := NewClient(nil, nil).Post(context.Background(), url, body{}, "", time.Second)
	if resp.Status != StatusTransportFailure {
		t.Errorf("Status: got %d want %d", resp.Status, StatusTransportFailure)
	}
	var terr *TransportError
	if !errors.As(resp.Err(), &terr) {
		t.Fatalf("expected *TransportError, got %T", resp.Err())
	}
	if resp.Message == "" {
		t.Error("Message: expected underlying error text")
	}
}

func TestPost_UnmarshalableBody(t *testing.T) {
	resp := NewClient(nil, nil).Post(context.Background(), "http://127.0.0.1:1", make(chan int), "", time.Second)
	var terr *TransportError
	if !errors.As(resp.Err(), &terr) {
		t.Fatalf("expected *TransportError, got %T", resp.Err())
	}
}

func TestPost_ParentCancelIsTransportError(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := NewClient(nil, nil).Post(ctx, srv.URL, body{}, "", time.Second)
	var terr *TransportError
	if !errors.As(resp.Err(), &terr) {
		t.Fatalf("expected *TransportError, got %T", resp.Err())
	}
	if !errors.Is(resp.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled in chain, got %v", resp.Err())
	}
}
