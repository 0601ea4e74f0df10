package auction

import (
	"errors"
	"strings"
	"time"

	"github.com/0gfoundation/prism-sdk/internal/wallet"
)

var (
	// ErrAlreadyCompleted means a winner was already obtained for the key.
	ErrAlreadyCompleted = errors.New("auction already completed")
	// ErrAlreadyPending means another request for the key is in flight.
	ErrAlreadyPending = errors.New("auction already in progress")
)

// Key identifies one auction for deduplication.
type Key struct {
	Publisher string
	Domain    string
	Wallet    string
}

func (k Key) String() string { return strings.Join([]string{k.Publisher, k.Domain, k.Wallet}, "|") }

func (k Key) detectionKey() wallet.DetectionKey {
	return wallet.DetectionKey{Publisher: k.Publisher, Domain: k.Domain}
}

// Winner is the campaign the enclave picked for the user.
type Winner struct {
	BannerURI    string `json:"bannerUri"`
	CampaignID   string `json:"campaignId"`
	CampaignName string `json:"campaignName"`
	JWTToken     string `json:"jwtToken"`
	TargetURL    string `json:"targetUrl"`
}

// Options tune a single auction call. Zero values select the coordinator
// defaults. The callbacks mirror the return values and are optional.
type Options struct {
	Retries   int
	Timeout   time.Duration
	OnSuccess func(Winner)
	OnError   func(error)
}

func (o Options) withoutCallbacks() Options {
	o.OnSuccess = nil
	o.OnError = nil
	return o
}

func (o Options) success(w Winner) {
	if o.OnSuccess != nil {
		o.OnSuccess(w)
	}
}

func (o Options) failure(err error) {
	if o.OnError != nil {
		o.OnError(err)
	}
}

// InitOptions configure Init.
type InitOptions struct {
	Options

	// DisableAutoTrigger makes Init a no-op.
	DisableAutoTrigger bool
	// ConnectedWallet, when set, is used as-is and WalletProbe is not called.
	ConnectedWallet string
	// WalletProbe reports the wallet as the host application sees it.
	WalletProbe wallet.Probe
	// DetectionTimeout bounds the wait for a late wallet. Zero selects the
	// coordinator default; a negative value disables waiting.
	DetectionTimeout  time.Duration
	DetectionInterval time.Duration
}

// InitStatus is the outcome class of Init.
type InitStatus int

const (
	InitSucceeded InitStatus = iota
	InitSkipped
	InitFailed
)

func (s InitStatus) String() string {
	switch s {
	case InitSucceeded:
		return "succeeded"
	case InitSkipped:
		return "skipped"
	case InitFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SkipReason says why Init did nothing.
type SkipReason string

const (
	SkipNone             SkipReason = ""
	SkipDisabled         SkipReason = "auto_trigger_disabled"
	SkipBusy             SkipReason = "init_in_progress"
	SkipAlreadyCompleted SkipReason = "already_completed"
	SkipAlreadyPending   SkipReason = "already_pending"
)

// InitResult is what Init resolves to. Winner is set only for
// InitSucceeded, Err only for InitFailed.
type InitResult struct {
	Status InitStatus
	Reason SkipReason
	Key    Key
	Winner *Winner
	Err    error
}

func skipped(reason SkipReason, key Key) InitResult {
	return InitResult{Status: InitSkipped, Reason: reason, Key: key}
}

// ResponseError is a 2xx auction reply that carried no usable winner.
type ResponseError struct {
	Status  string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message != "" {
		return "auction response without winner: " + e.Message
	}
	return "auction response without winner (status " + e.Status + ")"
}
