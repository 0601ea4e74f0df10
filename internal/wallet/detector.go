// Package wallet resolves the user's wallet address, waiting a bounded time
// for a wallet that connects asynchronously.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Unconnected is the all-zero address that stands for "no wallet". The
// backend treats it as one anonymous identity.
var Unconnected = common.Address{}.Hex()

// Probe reports the currently connected wallet, or "" when there is none.
type Probe interface {
	WalletAddress(ctx context.Context) (string, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context) (string, error)

func (f ProbeFunc) WalletAddress(ctx context.Context) (string, error) { return f(ctx) }

// Static is a Probe that always reports addr.
func Static(addr string) Probe {
	return ProbeFunc(func(context.Context) (string, error) { return addr, nil })
}

// IsConnected reports whether addr names a real wallet.
func IsConnected(addr string) bool {
	return addr != "" && !strings.EqualFold(addr, Unconnected)
}

// Poll calls p once. Errors, panics, the placeholder address and empty
// results all count as "no wallet yet".
func Poll(ctx context.Context, p Probe) (addr string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			addr, ok = "", false
		}
	}()
	a, err := p.WalletAddress(ctx)
	if err != nil || !IsConnected(a) {
		return "", false
	}
	return a, true
}

// WaitForWallet polls p immediately and then every interval until it yields
// a connected address or timeout has elapsed. Running out of time is not an
// error: ok is false and the caller falls back to Unconnected.
func WaitForWallet(ctx context.Context, p Probe, timeout, interval time.Duration, log *zap.Logger) (string, bool) {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	start := time.Now()
	deadline := start.Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	polls := 0
	for time.Now().Before(deadline) {
		polls++
		if addr, ok := Poll(ctx, p); ok {
			log.Debug("wallet detected", zap.Int("polls", polls), zap.Duration("elapsed", time.Since(start)))
			return addr, true
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	log.Debug("wallet detection timed out", zap.Int("polls", polls), zap.Duration("timeout", timeout))
	return "", false
}

// DetectionKey identifies one in-flight detection. It does not include the
// wallet, which is what is being detected.
type DetectionKey struct {
	Publisher string
	Domain    string
}

func (k DetectionKey) String() string { return k.Publisher + "|" + k.Domain }

// Detector shares in-flight detections: concurrent callers with the same
// DetectionKey attach to a single polling loop and see the same result.
type Detector struct {
	group singleflight.Group
	log   *zap.Logger
}

func NewDetector(log *zap.Logger) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{log: log}
}

type detection struct {
	addr string
	ok   bool
}

// Detect runs WaitForWallet for key, or joins the one already running. The
// shared loop is bounded by its own timeout and outlives a cancelled caller;
// a caller whose ctx ends stops waiting and gets ok == false.
func (d *Detector) Detect(ctx context.Context, key DetectionKey, p Probe, timeout, interval time.Duration) (string, bool) {
	ch := d.group.DoChan(key.String(), func() (any, error) {
		addr, ok := WaitForWallet(context.WithoutCancel(ctx), p, timeout, interval, d.log.With(zap.Stringer("detection", key)))
		return detection{addr: addr, ok: ok}, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			d.log.Debug("joined in-flight wallet detection", zap.Stringer("detection", key))
		}
		det, ok := res.Val.(detection)
		if !ok {
			panic(fmt.Sprintf("wallet: unexpected detection result %T", res.Val))
		}
		return det.addr, det.ok
	case <-ctx.Done():
		return "", false
	}
}

// Forget drops the active detection for key so the next Detect starts a new
// loop. Callers already attached still receive the old result.
func (d *Detector) Forget(key DetectionKey) {
	d.group.Forget(key.String())
}
