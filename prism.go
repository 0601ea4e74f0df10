// Package prism is the client SDK for the Prism ad-auction network.
//
// A Client encrypts the visitor's wallet address for the auction enclave,
// requests a winning campaign at most once per publisher, domain and wallet,
// and reports clicks and impressions for the winner.
package prism

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/auction"
	"github.com/0gfoundation/prism-sdk/internal/config"
	"github.com/0gfoundation/prism-sdk/internal/encrypt"
	"github.com/0gfoundation/prism-sdk/internal/gateway"
	"github.com/0gfoundation/prism-sdk/internal/tracking"
	"github.com/0gfoundation/prism-sdk/internal/wallet"
)

type (
	Config = config.Config

	Winner         = auction.Winner
	AuctionOptions = auction.Options
	InitOptions    = auction.InitOptions
	InitResult     = auction.InitResult
	InitStatus     = auction.InitStatus
	SkipReason     = auction.SkipReason
	State          = auction.State
	ResponseError  = auction.ResponseError

	TrackingOptions  = tracking.Options
	TrackingResponse = tracking.Response

	WalletProbe = wallet.Probe
	ProbeFunc   = wallet.ProbeFunc

	Encryptor       = encrypt.Encryptor
	EncryptionError = encrypt.Error

	HTTPStatusError = gateway.HTTPStatusError
	TimeoutError    = gateway.TimeoutError
	TransportError  = gateway.TransportError
)

const (
	InitSucceeded = auction.InitSucceeded
	InitSkipped   = auction.InitSkipped
	InitFailed    = auction.InitFailed

	SkipDisabled         = auction.SkipDisabled
	SkipBusy             = auction.SkipBusy
	SkipAlreadyCompleted = auction.SkipAlreadyCompleted
	SkipAlreadyPending   = auction.SkipAlreadyPending
)

var (
	ErrAlreadyCompleted = auction.ErrAlreadyCompleted
	ErrAlreadyPending   = auction.ErrAlreadyPending

	// UnconnectedWallet is the identity auctioned when no wallet is known.
	UnconnectedWallet = wallet.Unconnected
)

// LoadConfig reads configuration from config.yaml and PRISM_* variables.
func LoadConfig() (*Config, error) { return config.Load() }

// StaticWallet is a WalletProbe that always reports addr.
func StaticWallet(addr string) WalletProbe { return wallet.Static(addr) }

// NewState returns empty dedup state for WithState.
func NewState() *State { return auction.NewState() }

// Client is safe for concurrent use.
type Client struct {
	auctions *auction.Coordinator
	tracking *tracking.Client
	enc      Encryptor
}

func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := o.log
	if log == nil {
		log = zap.NewNop()
	}

	enc := o.encryptor
	if enc == nil {
		rsaEnc, err := encrypt.NewRSAFromFile(cfg.Encryption.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		enc = rsaEnc
	}

	var metrics *auction.Metrics
	if o.registerer != nil {
		m, err := auction.NewMetrics(o.registerer)
		if err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		metrics = m
	}

	httpc := gateway.NewClient(o.httpClient, log.Named("http"))

	coord, err := auction.NewCoordinator(auction.Config{
		EnclaveURL: cfg.EnclaveURL(),
		Encryptor:  enc,
		HTTP:       httpc,
		State:      o.state,
		Defaults: auction.Defaults{
			Retries:           cfg.Request.Retries,
			Timeout:           cfg.Request.Timeout,
			BackoffBase:       cfg.Request.BackoffBase,
			DetectionTimeout:  cfg.Wallet.DetectionTimeout,
			DetectionInterval: cfg.Wallet.DetectionInterval,
		},
		Metrics: metrics,
		Log:     log.Named("auction"),
	})
	if err != nil {
		return nil, err
	}

	clickPath := tracking.ClicksPath
	if o.legacyPath {
		clickPath = tracking.LegacyClickPath
	}
	tc, err := tracking.NewClient(tracking.Config{
		APIURL:      cfg.APIURL(),
		HTTP:        httpc,
		Retries:     cfg.Request.Retries,
		Timeout:     cfg.Request.Timeout,
		BackoffBase: cfg.Request.BackoffBase,
		ClickPath:   clickPath,
		Log:         log.Named("tracking"),
	})
	if err != nil {
		return nil, err
	}

	return &Client{auctions: coord, tracking: tc, enc: enc}, nil
}

// Init runs one auction for the visitor unless it already ran. Call it on
// page load and again whenever the wallet state changes.
func (c *Client) Init(ctx context.Context, publisher, domain string, opts InitOptions) InitResult {
	return c.auctions.Init(ctx, publisher, domain, opts)
}

// Auction always requests a fresh winner, ignoring dedup state.
func (c *Client) Auction(ctx context.Context, publisher, domain, walletAddr string, opts AuctionOptions) (Winner, error) {
	return c.auctions.Auction(ctx, publisher, domain, walletAddr, opts)
}

// AutoAuction requests a winner once per publisher, domain and wallet.
func (c *Client) AutoAuction(ctx context.Context, publisher, domain, connectedWallet string, opts AuctionOptions) (Winner, error) {
	return c.auctions.AutoAuction(ctx, publisher, domain, connectedWallet, opts)
}

func (c *Client) Clicks(ctx context.Context, publisher, websiteURL, campaignID, jwt string, opts TrackingOptions) (TrackingResponse, error) {
	return c.tracking.Clicks(ctx, publisher, websiteURL, campaignID, jwt, opts)
}

func (c *Client) Impressions(ctx context.Context, publisher, websiteURL, campaignID, jwt string, opts TrackingOptions) (TrackingResponse, error) {
	return c.tracking.Impressions(ctx, publisher, websiteURL, campaignID, jwt, opts)
}

// ResetAuctionState forgets past auctions. An empty walletAddr resets every
// wallet for publisher+domain.
func (c *Client) ResetAuctionState(publisher, domain, walletAddr string) {
	c.auctions.Reset(publisher, domain, walletAddr)
}

// EncryptAddress returns the enclave ciphertext for address.
func (c *Client) EncryptAddress(address string) (string, error) {
	return c.enc.Encrypt(address)
}

// State exposes the dedup registries.
func (c *Client) State() *State { return c.auctions.State() }
