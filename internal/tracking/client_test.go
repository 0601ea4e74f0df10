package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/0gfoundation/prism-sdk/internal/gateway"
)

const (
	publisher  = "0x1234567890123456789012345678901234567890"
	websiteURL = "https://example.com"
	campaignID = "camp-1"
	jwtToken   = "mock.jwt.token"
)

func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string, clickPath string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIURL:      url,
		HTTP:        gateway.NewClient(nil, nil),
		BackoffBase: time.Millisecond,
		ClickPath:   clickPath,
		Log:         zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{HTTP: gateway.NewClient(nil, nil)}); err == nil {
		t.Error("missing URL: expected error")
	}
	if _, err := NewClient(Config{APIURL: "http://x"}); err == nil {
		t.Error("missing poster: expected error")
	}
}

// ── Clicks / Impressions ─────────────────────────────────────────────────────

func TestImpressions_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotEvent Event
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotEvent) //nolint:errcheck
		w.Write([]byte(`{"data":{"status":"success","message":"impression recorded"}}`))
	})
	c := newTestClient(t, srv.URL, "")

	var callbacks int
	resp, err := c.Impressions(context.Background(), publisher, websiteURL, campaignID, jwtToken, Options{
		OnSuccess: func(Response) { callbacks++ },
		OnError:   func(err error) { t.Errorf("OnError called: %v", err) },
	})
	if err != nil {
		t.Fatalf("Impressions: %v", err)
	}
	if resp.Status != http.StatusOK || resp.Data.Status != "success" {
		t.Errorf("response: got %d/%q", resp.Status, resp.Data.Status)
	}
	if resp.Data.Message != "impression recorded" {
		t.Errorf("message: got %q", resp.Data.Message)
	}
	if callbacks != 1 {
		t.Errorf("OnSuccess calls: got %d want 1", callbacks)
	}
	if gotPath != ImpressionsPath {
		t.Errorf("path: got %q want %q", gotPath, ImpressionsPath)
	}
	if gotAuth != "Bearer "+jwtToken {
		t.Errorf("Authorization: got %q", gotAuth)
	}
	want := Event{PublisherAddress: publisher, WebsiteURL: websiteURL, CampaignID: campaignID}
	if gotEvent != want {
		t.Errorf("body: got %+v want %+v", gotEvent, want)
	}
}

func TestClicks_DefaultAndLegacyPath(t *testing.T) {
	for _, tc := range []struct {
		clickPath string
		want      string
	}{
		{"", "/clicks"},
		{LegacyClickPath, "/click"},
	} {
		var gotPath string
		srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte(`{"data":{"status":"success"}}`))
		})
		c := newTestClient(t, srv.URL, tc.clickPath)
		if _, err := c.Clicks(context.Background(), publisher, websiteURL, campaignID, jwtToken, Options{}); err != nil {
			t.Fatalf("Clicks: %v", err)
		}
		if gotPath != tc.want {
			t.Errorf("path: got %q want %q", gotPath, tc.want)
		}
	}
}

func TestClicks_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":{"status":"success"}}`))
	})
	c := newTestClient(t, srv.URL, "")

	if _, err := c.Clicks(context.Background(), publisher, websiteURL, campaignID, jwtToken, Options{}); err != nil {
		t.Fatalf("Clicks: %v", err)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("requests: got %d want 3", n)
	}
}

func TestClicks_UnauthorizedAfterRetries(t *testing.T) {
	var hits atomic.Int32
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("invalid token"))
	})
	c := newTestClient(t, srv.URL, "")

	var onErr error
	_, err := c.Clicks(context.Background(), publisher, websiteURL, campaignID, "bad", Options{
		Retries: 2,
		OnError: func(err error) { onErr = err },
	})
	var se *gateway.HTTPStatusError
	if !errors.As(err, &se) {
		t.Fatalf("err: got %T %v want *gateway.HTTPStatusError", err, err)
	}
	if se.Status != http.StatusUnauthorized {
		t.Errorf("status: got %d want 401", se.Status)
	}
	if want := "HTTP error! status: 401, message: invalid token"; err.Error() != want {
		t.Errorf("message: got %q want %q", err.Error(), want)
	}
	if onErr != err {
		t.Errorf("OnError: got %v", onErr)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("requests: got %d want 2", n)
	}
}

func TestImpressions_EmptyBodyIsOK(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, srv.URL, "")

	resp, err := c.Impressions(context.Background(), publisher, websiteURL, campaignID, jwtToken, Options{})
	if err != nil {
		t.Fatalf("Impressions: %v", err)
	}
	if resp.Status != http.StatusNoContent {
		t.Errorf("status: got %d", resp.Status)
	}
}

func TestImpressions_Timeout(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
	})
	c := newTestClient(t, srv.URL, "")

	_, err := c.Impressions(context.Background(), publisher, websiteURL, campaignID, jwtToken, Options{
		Retries: 1,
		Timeout: 10 * time.Millisecond,
	})
	var te *gateway.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("err: got %T %v want *gateway.TimeoutError", err, err)
	}
}
