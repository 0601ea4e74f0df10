package devserver

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/encrypt"
)

func init() { gin.SetMode(gin.TestMode) }

const (
	testPublisher = "0x1234567890123456789012345678901234567890"
	testDomain    = "example.com"
	testWallet    = "0xFa21000000000000000000000001BD35F723DC"
)

type testServer struct {
	router *gin.Engine
	issuer *Issuer
	ledger *Ledger
	key    *rsa.PrivateKey
	mr     *miniredis.Miniredis
}

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return rdb, mr
}

func newTestServer(t *testing.T, withKey bool) *testServer {
	t.Helper()
	rdb, mr := newTestRedis(t)
	iss, err := NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	var key *rsa.PrivateKey
	if withKey {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("GenerateKey: %v", err)
		}
	}
	reg := prometheus.NewRegistry()
	ledger := NewLedger(rdb)
	h, err := NewHandler(Options{
		Key:        key,
		Issuer:     iss,
		Ledger:     ledger,
		Registerer: reg,
		Log:        zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return &testServer{router: NewRouter(h, reg), issuer: iss, ledger: ledger, key: key, mr: mr}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type auctionReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    *struct {
		CampaignID    string `json:"campaignId"`
		BannerIPFSURI string `json:"bannerIpfsUri"`
		URL           string `json:"url"`
		CampaignName  string `json:"campaignName"`
		JWTToken      string `json:"jwt_token"`
	} `json:"data"`
}

func (s *testServer) auction(t *testing.T, userAddress string) auctionReply {
	t.Helper()
	w := s.do(t, http.MethodPost, "/auction", "", gin.H{
		"publisher_address": testPublisher,
		"user_address":      userAddress,
		"publisher_domain":  testDomain,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("auction status: got %d body %s", w.Code, w.Body.String())
	}
	var r auctionReply
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode auction: %v", err)
	}
	return r
}

func (s *testServer) encryptWallet(t *testing.T, wallet string) string {
	t.Helper()
	pemData, err := encrypt.EncodePublicKey(&s.key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey: %v", err)
	}
	ct, err := encrypt.NewRSA(pemData).Encrypt(wallet)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	return ct
}

func trackingBody(campaignID string) gin.H {
	return gin.H{"publisherAddress": testPublisher, "websiteUrl": "https://" + testDomain, "campaignId": campaignID}
}

// ── Auction ───────────────────────────────────────────────────────────────────

func TestAuction_EncryptedWalletIsDeterministic(t *testing.T) {
	s := newTestServer(t, true)

	first := s.auction(t, s.encryptWallet(t, testWallet))
	second := s.auction(t, s.encryptWallet(t, testWallet))

	if first.Status != "success" || first.Data == nil {
		t.Fatalf("first: got %+v", first)
	}
	if first.Data.CampaignID != second.Data.CampaignID {
		t.Errorf("campaign: %q then %q for the same wallet", first.Data.CampaignID, second.Data.CampaignID)
	}
	want, _ := Select(DefaultCampaigns, testPublisher, testDomain, testWallet)
	if first.Data.CampaignID != want.ID {
		t.Errorf("campaign: got %q want %q", first.Data.CampaignID, want.ID)
	}
	if first.Data.BannerIPFSURI != want.BannerURI || first.Data.URL != want.URL {
		t.Errorf("data: got %+v", first.Data)
	}

	claims, err := s.issuer.Verify(first.Data.JWTToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.CampaignID != want.ID || claims.Publisher != testPublisher {
		t.Errorf("claims: got %+v", claims)
	}
}

func TestAuction_BadCiphertext(t *testing.T) {
	s := newTestServer(t, true)
	w := s.do(t, http.MethodPost, "/auction", "", gin.H{
		"publisher_address": testPublisher,
		"user_address":      "not-base64!",
		"publisher_domain":  testDomain,
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d want 400", w.Code)
	}
}

func TestAuction_MissingFields(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodPost, "/auction", "", gin.H{"publisher_address": testPublisher})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d want 400", w.Code)
	}
}

func TestAuction_RecordsLedger(t *testing.T) {
	s := newTestServer(t, false)
	r := s.auction(t, "opaque")

	st, err := s.ledger.GetStats(context.Background(), r.Data.CampaignID)
	if err != nil || st == nil {
		t.Fatalf("GetStats: %v %v", st, err)
	}
	if st.Auctions != 1 {
		t.Errorf("Auctions: got %d want 1", st.Auctions)
	}
}

// ── Tracking ──────────────────────────────────────────────────────────────────

func TestTracking_RequiresBearer(t *testing.T) {
	s := newTestServer(t, false)
	for _, path := range []string{"/clicks", "/click", "/impressions"} {
		if w := s.do(t, http.MethodPost, path, "", trackingBody("camp-0001")); w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: got %d want 401", path, w.Code)
		}
		if w := s.do(t, http.MethodPost, path, "garbage", trackingBody("camp-0001")); w.Code != http.StatusUnauthorized {
			t.Errorf("%s with bad token: got %d want 401", path, w.Code)
		}
	}
}

func TestTracking_CampaignMustMatchToken(t *testing.T) {
	s := newTestServer(t, false)
	r := s.auction(t, "opaque")

	other := "camp-0001"
	if r.Data.CampaignID == other {
		other = "camp-0002"
	}
	w := s.do(t, http.MethodPost, "/clicks", r.Data.JWTToken, trackingBody(other))
	if w.Code != http.StatusForbidden {
		t.Errorf("status: got %d want 403", w.Code)
	}
}

func TestClicks_CountEveryClick(t *testing.T) {
	s := newTestServer(t, false)
	r := s.auction(t, "opaque")

	for _, path := range []string{"/clicks", "/click"} {
		w := s.do(t, http.MethodPost, path, r.Data.JWTToken, trackingBody(r.Data.CampaignID))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: got %d body %s", path, w.Code, w.Body.String())
		}
		if !strings.Contains(w.Body.String(), `"status":"success"`) {
			t.Errorf("%s body: %s", path, w.Body.String())
		}
	}

	w := s.do(t, http.MethodGet, "/stats/"+r.Data.CampaignID, "", nil)
	var st Stats
	json.Unmarshal(w.Body.Bytes(), &st) //nolint:errcheck
	if st.Clicks != 2 {
		t.Errorf("Clicks: got %d want 2", st.Clicks)
	}
}

func TestImpressions_DedupPerToken(t *testing.T) {
	s := newTestServer(t, false)
	r := s.auction(t, "opaque")

	first := s.do(t, http.MethodPost, "/impressions", r.Data.JWTToken, trackingBody(r.Data.CampaignID))
	second := s.do(t, http.MethodPost, "/impressions", r.Data.JWTToken, trackingBody(r.Data.CampaignID))
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("status: got %d, %d", first.Code, second.Code)
	}
	if !strings.Contains(second.Body.String(), `"duplicate"`) {
		t.Errorf("second body: %s", second.Body.String())
	}

	st, _ := s.ledger.GetStats(context.Background(), r.Data.CampaignID)
	if st.Impressions != 1 {
		t.Errorf("Impressions: got %d want 1", st.Impressions)
	}

	// A new win is a new token and counts again.
	again := s.auction(t, "opaque")
	s.do(t, http.MethodPost, "/impressions", again.Data.JWTToken, trackingBody(again.Data.CampaignID))
	st, _ = s.ledger.GetStats(context.Background(), r.Data.CampaignID)
	if st.Impressions != 2 {
		t.Errorf("Impressions after new win: got %d want 2", st.Impressions)
	}
}

// ── Stats / ops ───────────────────────────────────────────────────────────────

func TestStats_UnknownCampaign(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(t, http.MethodGet, "/stats/nope", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("status: got %d want 404", w.Code)
	}
}

func TestStats_All(t *testing.T) {
	s := newTestServer(t, false)
	w := s.do(t, http.MethodGet, "/stats", "", nil)
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("empty: got %d %s", w.Code, w.Body.String())
	}

	s.auction(t, "opaque")
	w = s.do(t, http.MethodGet, "/stats", "", nil)
	var all []Stats
	json.Unmarshal(w.Body.Bytes(), &all) //nolint:errcheck
	if len(all) != 1 || all[0].Auctions != 1 {
		t.Errorf("all: got %+v", all)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t, false)
	if w := s.do(t, http.MethodGet, "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz: got %d", w.Code)
	}
	s.auction(t, "opaque")
	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(w.Body.String(), `prism_devserver_events_total{event="auction",result="success"} 1`) {
		t.Errorf("metrics missing auction counter:\n%s", w.Body.String())
	}
}

func TestNewHandler_RequiresIssuerAndLedger(t *testing.T) {
	if _, err := NewHandler(Options{}); err == nil {
		t.Error("expected error")
	}
}
