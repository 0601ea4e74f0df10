package prism

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/auction"
	"github.com/0gfoundation/prism-sdk/internal/encrypt"
)

// Option customizes a Client.
type Option func(*options)

type options struct {
	log        *zap.Logger
	httpClient *http.Client
	encryptor  encrypt.Encryptor
	registerer prometheus.Registerer
	state      *auction.State
	legacyPath bool
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithHTTPClient sets the transport for every request. Per-call timeouts
// still apply on top of it.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithEncryptor replaces the RSA encryptor built from configuration.
func WithEncryptor(e Encryptor) Option {
	return func(o *options) { o.encryptor = e }
}

// WithRegisterer registers the SDK metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithState shares dedup state between clients.
func WithState(s *State) Option {
	return func(o *options) { o.state = s }
}

// WithLegacyClickPath posts clicks to /click instead of /clicks.
func WithLegacyClickPath() Option {
	return func(o *options) { o.legacyPath = true }
}
