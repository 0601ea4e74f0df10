// Package tracking reports click and impression feedback for a won campaign.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/prism-sdk/internal/gateway"
	"github.com/0gfoundation/prism-sdk/internal/retry"
)

const (
	ClicksPath       = "/clicks"
	LegacyClickPath  = "/click"
	ImpressionsPath  = "/impressions"
	defaultAttempts  = retry.DefaultAttempts
	defaultBaseDelay = retry.DefaultBaseDelay
)

// Poster is satisfied by *gateway.Client.
type Poster interface {
	Post(ctx context.Context, url string, body any, token string, timeout time.Duration) *gateway.Response
}

// Event is the body of a tracking call.
type Event struct {
	PublisherAddress string `json:"publisherAddress"`
	WebsiteURL       string `json:"websiteUrl"`
	CampaignID       string `json:"campaignId"`
}

// Ack is the data object the tracking API answers with.
type Ack struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Response is a successful tracking reply.
type Response struct {
	Status int
	Data   Ack
	Raw    json.RawMessage
}

// Options mirror the auction call options.
type Options struct {
	Retries   int
	Timeout   time.Duration
	OnSuccess func(Response)
	OnError   func(error)
}

type Config struct {
	APIURL      string
	HTTP        Poster
	BackoffBase time.Duration
	Retries     int
	Timeout     time.Duration
	// ClickPath overrides the clicks endpoint, e.g. LegacyClickPath.
	ClickPath string
	Log       *zap.Logger
}

// Client posts tracking events with the winner's JWT.
type Client struct {
	apiURL    string
	http      Poster
	policy    retry.Policy
	timeout   time.Duration
	clickPath string
	log       *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("tracking API URL cannot be empty")
	}
	if cfg.HTTP == nil {
		return nil, errors.New("HTTP poster cannot be nil")
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = defaultAttempts
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = defaultBaseDelay
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = gateway.DefaultTimeout
	}
	clickPath := cfg.ClickPath
	if clickPath == "" {
		clickPath = ClicksPath
	}
	return &Client{
		apiURL:    cfg.APIURL,
		http:      cfg.HTTP,
		policy:    retry.Policy{Attempts: attempts, BaseDelay: base},
		timeout:   timeout,
		clickPath: clickPath,
		log:       log,
	}, nil
}

// Clicks records that the user clicked the campaign's banner.
func (c *Client) Clicks(ctx context.Context, publisher, websiteURL, campaignID, jwt string, opts Options) (Response, error) {
	return c.send(ctx, "click", c.clickPath, Event{publisher, websiteURL, campaignID}, jwt, opts)
}

// Impressions records that the campaign's banner was shown.
func (c *Client) Impressions(ctx context.Context, publisher, websiteURL, campaignID, jwt string, opts Options) (Response, error) {
	return c.send(ctx, "impression", ImpressionsPath, Event{publisher, websiteURL, campaignID}, jwt, opts)
}

func (c *Client) send(ctx context.Context, kind, path string, ev Event, jwt string, opts Options) (Response, error) {
	p := c.policy
	if opts.Retries >= 1 {
		p.Attempts = opts.Retries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}

	resp, err := retry.Do(ctx, p, c.log, func(ctx context.Context) (Response, error) {
		r := c.http.Post(ctx, c.apiURL+path, ev, jwt, timeout)
		if err := r.Err(); err != nil {
			return Response{}, err
		}
		out := Response{Status: r.Status, Raw: r.Payload}
		var env struct {
			Data *Ack `json:"data"`
		}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &env); err != nil {
				return Response{}, fmt.Errorf("decode %s response: %w", kind, err)
			}
		}
		if env.Data != nil {
			out.Data = *env.Data
		}
		return out, nil
	})
	if err != nil {
		c.log.Error(kind+" tracking failed",
			zap.String("campaign", ev.CampaignID),
			zap.String("website", ev.WebsiteURL),
			zap.Error(err),
		)
		if opts.OnError != nil {
			opts.OnError(err)
		}
		return Response{}, err
	}
	c.log.Debug(kind+" tracked", zap.String("campaign", ev.CampaignID), zap.String("status", resp.Data.Status))
	if opts.OnSuccess != nil {
		opts.OnSuccess(resp)
	}
	return resp, nil
}
