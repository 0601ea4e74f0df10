// Package auction requests ad-auction winners from the enclave and makes
// sure each publisher/domain/wallet combination is auctioned at most once.
//
// Auction is the raw, non-deduplicated call. AutoAuction adds the
// pending/completed registries and reports refusals as ErrAlreadyPending or
// ErrAlreadyCompleted. Init is the entry point a host application calls on
// every wallet-state change: it resolves the wallet, serializes itself, and
// folds every outcome into an InitResult instead of an error.
package auction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/encrypt"
	"github.com/0gfoundation/prism-sdk/internal/gateway"
	"github.com/0gfoundation/prism-sdk/internal/retry"
	"github.com/0gfoundation/prism-sdk/internal/wallet"
)

// Poster is satisfied by *gateway.Client.
type Poster interface {
	Post(ctx context.Context, url string, body any, token string, timeout time.Duration) *gateway.Response
}

// Defaults fill in zero-valued per-call options.
type Defaults struct {
	Retries           int
	Timeout           time.Duration
	BackoffBase       time.Duration
	DetectionTimeout  time.Duration
	DetectionInterval time.Duration
}

// DefaultDefaults are the values used when a Coordinator is built with a
// zero Defaults.
var DefaultDefaults = Defaults{
	Retries:           retry.DefaultAttempts,
	Timeout:           gateway.DefaultTimeout,
	BackoffBase:       retry.DefaultBaseDelay,
	DetectionTimeout:  time.Second,
	DetectionInterval: 100 * time.Millisecond,
}

func (d Defaults) filled() Defaults {
	if d.Retries < 1 {
		d.Retries = DefaultDefaults.Retries
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultDefaults.Timeout
	}
	if d.BackoffBase <= 0 {
		d.BackoffBase = DefaultDefaults.BackoffBase
	}
	if d.DetectionTimeout == 0 {
		d.DetectionTimeout = DefaultDefaults.DetectionTimeout
	}
	if d.DetectionInterval <= 0 {
		d.DetectionInterval = DefaultDefaults.DetectionInterval
	}
	return d
}

// Coordinator runs auctions against one enclave.
type Coordinator struct {
	enclaveURL string
	enc        encrypt.Encryptor
	http       Poster
	detector   *wallet.Detector
	state      *State
	defaults   Defaults
	metrics    *Metrics
	log        *zap.Logger
}

// Config collects Coordinator dependencies. State, Detector, Metrics and
// Log are optional.
type Config struct {
	EnclaveURL string
	Encryptor  encrypt.Encryptor
	HTTP       Poster
	Detector   *wallet.Detector
	State      *State
	Defaults   Defaults
	Metrics    *Metrics
	Log        *zap.Logger
}

func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.EnclaveURL == "" {
		return nil, errors.New("enclave URL cannot be empty")
	}
	if cfg.Encryptor == nil {
		return nil, errors.New("encryptor cannot be nil")
	}
	if cfg.HTTP == nil {
		return nil, errors.New("HTTP poster cannot be nil")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	state := cfg.State
	if state == nil {
		state = NewState()
	}
	detector := cfg.Detector
	if detector == nil {
		detector = wallet.NewDetector(log)
	}
	return &Coordinator{
		enclaveURL: cfg.EnclaveURL,
		enc:        cfg.Encryptor,
		http:       cfg.HTTP,
		detector:   detector,
		state:      state,
		defaults:   cfg.Defaults.filled(),
		metrics:    cfg.Metrics,
		log:        log,
	}, nil
}

// State exposes the registries, mainly for inspection in tests.
func (c *Coordinator) State() *State { return c.state }

// ── Auction ──────────────────────────────────────────────────────────────────

type auctionRequest struct {
	PublisherAddress string `json:"publisher_address"`
	UserAddress      string `json:"user_address"`
	PublisherDomain  string `json:"publisher_domain"`
}

type auctionEnvelope struct {
	Status  string       `json:"status"`
	Message string       `json:"message"`
	Data    *auctionData `json:"data"`
}

type auctionData struct {
	CampaignID    string `json:"campaignId"`
	BannerIPFSURI string `json:"bannerIpfsUri"`
	URL           string `json:"url"`
	CampaignName  string `json:"campaignName"`
	JWTToken      string `json:"jwt_token"`
}

// Auction encrypts walletAddr and asks the enclave for a winner, retrying
// every failure up to opts.Retries times. It does not consult or update the
// dedup registries.
func (c *Coordinator) Auction(ctx context.Context, publisher, domain, walletAddr string, opts Options) (Winner, error) {
	start := time.Now()
	w, err := retry.Do(ctx, c.policy(opts), c.log, func(ctx context.Context) (Winner, error) {
		return c.attempt(ctx, publisher, domain, walletAddr, opts)
	})
	c.metrics.observeAuction(time.Since(start).Seconds(), err)
	if err != nil {
		c.log.Error("auction failed",
			zap.String("publisher", publisher),
			zap.String("domain", domain),
			zap.Error(err),
		)
		opts.failure(err)
		return Winner{}, err
	}
	c.log.Info("auction won",
		zap.String("publisher", publisher),
		zap.String("domain", domain),
		zap.String("campaign", w.CampaignID),
	)
	opts.success(w)
	return w, nil
}

func (c *Coordinator) attempt(ctx context.Context, publisher, domain, walletAddr string, opts Options) (Winner, error) {
	ciphertext, err := c.enc.Encrypt(walletAddr)
	if err != nil {
		return Winner{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaults.Timeout
	}
	resp := c.http.Post(ctx, c.enclaveURL+"/auction", auctionRequest{
		PublisherAddress: publisher,
		UserAddress:      ciphertext,
		PublisherDomain:  domain,
	}, "", timeout)
	if err := resp.Err(); err != nil {
		return Winner{}, err
	}

	var env auctionEnvelope
	if err := json.Unmarshal(resp.Payload, &env); err != nil {
		return Winner{}, fmt.Errorf("decode auction response: %w", err)
	}
	if env.Data == nil {
		return Winner{}, &ResponseError{Status: env.Status, Message: env.Message}
	}
	return Winner{
		BannerURI:    env.Data.BannerIPFSURI,
		CampaignID:   env.Data.CampaignID,
		CampaignName: env.Data.CampaignName,
		JWTToken:     env.Data.JWTToken,
		TargetURL:    env.Data.URL,
	}, nil
}

func (c *Coordinator) policy(opts Options) retry.Policy {
	attempts := opts.Retries
	if attempts < 1 {
		attempts = c.defaults.Retries
	}
	return retry.Policy{Attempts: attempts, BaseDelay: c.defaults.BackoffBase}
}

// ── AutoAuction ──────────────────────────────────────────────────────────────

// AutoAuction runs Auction at most once per publisher/domain/wallet. An empty
// connectedWallet auctions the anonymous wallet.Unconnected identity.
// A key that already has a winner fails with ErrAlreadyCompleted; a key with
// a request in flight fails with ErrAlreadyPending. A failed auction leaves
// the key retryable.
func (c *Coordinator) AutoAuction(ctx context.Context, publisher, domain, connectedWallet string, opts Options) (Winner, error) {
	walletAddr := connectedWallet
	if walletAddr == "" {
		walletAddr = wallet.Unconnected
	}
	key := Key{Publisher: publisher, Domain: domain, Wallet: walletAddr}

	t, err := c.state.acquire(key)
	if err != nil {
		c.metrics.observeDedup(err)
		c.log.Debug("auto auction refused", zap.Stringer("key", key), zap.Error(err))
		opts.failure(err)
		return Winner{}, err
	}

	w, err := c.Auction(ctx, publisher, domain, walletAddr, opts.withoutCallbacks())
	if err != nil {
		c.state.release(t)
		opts.failure(err)
		return Winner{}, err
	}
	if !c.state.complete(t) {
		c.log.Warn("auction finished after its key was reset", zap.Stringer("key", key))
	}
	opts.success(w)
	return w, nil
}

// ── Init ─────────────────────────────────────────────────────────────────────

// Init is safe to call blindly and repeatedly. It never fails loudly:
// everything, including refusals, is reported through InitResult, and
// OnError fires only for genuine faults.
func (c *Coordinator) Init(ctx context.Context, publisher, domain string, opts InitOptions) InitResult {
	res := c.init(ctx, publisher, domain, opts)
	c.metrics.observeInit(res)
	return res
}

func (c *Coordinator) init(ctx context.Context, publisher, domain string, opts InitOptions) InitResult {
	if opts.DisableAutoTrigger {
		return skipped(SkipDisabled, Key{Publisher: publisher, Domain: domain})
	}
	if !c.state.beginInit() {
		c.log.Debug("init already in progress, skipping", zap.String("publisher", publisher), zap.String("domain", domain))
		return skipped(SkipBusy, Key{Publisher: publisher, Domain: domain})
	}
	defer c.state.endInit()

	key := Key{Publisher: publisher, Domain: domain, Wallet: c.resolveWallet(ctx, publisher, domain, opts)}

	switch c.state.Phase(key) {
	case PhaseCompleted:
		return skipped(SkipAlreadyCompleted, key)
	case PhasePending:
		return skipped(SkipAlreadyPending, key)
	}

	w, err := c.AutoAuction(ctx, publisher, domain, key.Wallet, opts.Options.withoutCallbacks())
	switch {
	case err == nil:
		opts.success(w)
		return InitResult{Status: InitSucceeded, Key: key, Winner: &w}
	case errors.Is(err, ErrAlreadyCompleted):
		return skipped(SkipAlreadyCompleted, key)
	case errors.Is(err, ErrAlreadyPending):
		return skipped(SkipAlreadyPending, key)
	default:
		opts.failure(err)
		return InitResult{Status: InitFailed, Key: key, Err: err}
	}
}

// resolveWallet picks the wallet for Init: the explicit ConnectedWallet, a
// single probe, a bounded shared detection, then the anonymous placeholder.
func (c *Coordinator) resolveWallet(ctx context.Context, publisher, domain string, opts InitOptions) string {
	if wallet.IsConnected(opts.ConnectedWallet) {
		return opts.ConnectedWallet
	}
	if opts.WalletProbe == nil {
		return wallet.Unconnected
	}
	if addr, ok := wallet.Poll(ctx, opts.WalletProbe); ok {
		return addr
	}

	timeout := opts.DetectionTimeout
	if timeout == 0 {
		timeout = c.defaults.DetectionTimeout
	}
	if timeout <= 0 {
		return wallet.Unconnected
	}
	interval := opts.DetectionInterval
	if interval <= 0 {
		interval = c.defaults.DetectionInterval
	}

	key := Key{Publisher: publisher, Domain: domain}.detectionKey()
	if addr, ok := c.detector.Detect(ctx, key, opts.WalletProbe, timeout, interval); ok {
		return addr
	}
	c.log.Debug("no wallet detected, using unconnected identity", zap.Stringer("detection", key))
	return wallet.Unconnected
}

// ── Reset ────────────────────────────────────────────────────────────────────

// Reset clears dedup state. With a wallet it forgets exactly that key;
// without one it forgets every key for publisher+domain and drops any
// active wallet detection for them.
func (c *Coordinator) Reset(publisher, domain, walletAddr string) {
	if walletAddr != "" {
		c.state.Reset(Key{Publisher: publisher, Domain: domain, Wallet: walletAddr})
		return
	}
	n := c.state.ResetPublisher(publisher, domain)
	c.detector.Forget(Key{Publisher: publisher, Domain: domain}.detectionKey())
	c.log.Debug("auction state reset", zap.String("publisher", publisher), zap.String("domain", domain), zap.Int("dropped", n))
}
