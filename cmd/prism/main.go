// cmd/prism drives the SDK from the command line, mostly for poking at an
// enclave or a local prism-devserver.
//
// Usage examples:
//
//	prism auction      --publisher 0x... --domain example.com --wallet 0x...
//	prism init         --publisher 0x... --domain example.com [--wallet 0x...]
//	prism click        --publisher 0x... --website https://example.com --campaign camp-1 --jwt <token>
//	prism impression   --publisher 0x... --website https://example.com --campaign camp-1 --jwt <token>
//	prism encrypt      --wallet 0x...
//
// Endpoints and timeouts come from config.yaml / PRISM_* variables;
// --enclave and --api override them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	prism "github.com/0gfoundation/prism-sdk"
)

const usage = `usage: prism <command> [flags]

commands:
  auction       request a winner (no dedup)
  auto-auction  request a winner once per publisher/domain/wallet
  init          resolve the wallet and auction like a page load would
  click         report a click for a won campaign
  impression    report an impression for a won campaign
  encrypt       print the enclave ciphertext of a wallet address

Results are printed as JSON. Exit status is 1 on failure, 2 on bad usage
and 3 when the remote end timed out.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type cliFlags struct {
	enclave   *string
	api       *string
	publisher *string
	domain    *string
	wallet    *string
	website   *string
	campaign  *string
	jwt       *string
	retries   *int
	legacy    *bool
	verbose   *bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := cliFlags{
		enclave:   fs.String("enclave", "", "enclave base URL (overrides PRISM_ENCLAVE_URL)"),
		api:       fs.String("api", "", "tracking API base URL (overrides PRISM_API_URL)"),
		publisher: fs.String("publisher", "", "publisher address"),
		domain:    fs.String("domain", "", "publisher domain"),
		wallet:    fs.String("wallet", "", "user wallet address"),
		website:   fs.String("website", "", "website URL for tracking"),
		campaign:  fs.String("campaign", "", "campaign ID for tracking"),
		jwt:       fs.String("jwt", "", "winner JWT for tracking"),
		retries:   fs.Int("retries", 0, "attempts per call (0 = configured default)"),
		legacy:    fs.Bool("legacy-click", false, "post clicks to /click"),
		verbose:   fs.Bool("v", false, "debug logging to stderr"),
	}
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	client, err := newClient(f)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}

	if *f.wallet != "" && !common.IsHexAddress(*f.wallet) {
		fmt.Fprintf(stderr, "warning: %q is not a hex address\n", *f.wallet)
	}

	var out any
	switch cmd {
	case "auction":
		if err := f.require("publisher", "domain", "wallet"); err != nil {
			return fail(stderr, err)
		}
		out, err = client.Auction(ctx, *f.publisher, *f.domain, *f.wallet, prism.AuctionOptions{Retries: *f.retries})
	case "auto-auction":
		if err := f.require("publisher", "domain"); err != nil {
			return fail(stderr, err)
		}
		out, err = client.AutoAuction(ctx, *f.publisher, *f.domain, *f.wallet, prism.AuctionOptions{Retries: *f.retries})
	case "init":
		if err := f.require("publisher", "domain"); err != nil {
			return fail(stderr, err)
		}
		res := client.Init(ctx, *f.publisher, *f.domain, prism.InitOptions{
			Options:         prism.AuctionOptions{Retries: *f.retries},
			ConnectedWallet: *f.wallet,
		})
		out, err = initOutput(res), res.Err
	case "click", "impression":
		if err := f.require("publisher", "campaign", "jwt"); err != nil {
			return fail(stderr, err)
		}
		opts := prism.TrackingOptions{Retries: *f.retries}
		if cmd == "click" {
			out, err = client.Clicks(ctx, *f.publisher, *f.website, *f.campaign, *f.jwt, opts)
		} else {
			out, err = client.Impressions(ctx, *f.publisher, *f.website, *f.campaign, *f.jwt, opts)
		}
	case "encrypt":
		if err := f.require("wallet"); err != nil {
			return fail(stderr, err)
		}
		var ct string
		ct, err = client.EncryptAddress(*f.wallet)
		out = map[string]string{"ciphertext": ct}
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
	if err != nil {
		return fail(stderr, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func newClient(f cliFlags) (*prism.Client, error) {
	cfg, err := prism.LoadConfig()
	if err != nil {
		return nil, err
	}
	if *f.enclave != "" {
		cfg.Enclave.URL = *f.enclave
	}
	if *f.api != "" {
		cfg.API.URL = *f.api
	}

	log := zap.NewNop()
	if *f.verbose {
		zc := zap.NewDevelopmentConfig()
		zc.OutputPaths = []string{"stderr"}
		if log, err = zc.Build(); err != nil {
			return nil, err
		}
	}
	opts := []prism.Option{prism.WithLogger(log)}
	if *f.legacy {
		opts = append(opts, prism.WithLegacyClickPath())
	}
	return prism.New(cfg, opts...)
}

type initJSON struct {
	Status string        `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Wallet string        `json:"wallet"`
	Winner *prism.Winner `json:"winner,omitempty"`
}

func initOutput(r prism.InitResult) initJSON {
	return initJSON{Status: r.Status.String(), Reason: string(r.Reason), Wallet: r.Key.Wallet, Winner: r.Winner}
}

// require reports the first empty flag among names.
func (f cliFlags) require(names ...string) error {
	values := map[string]*string{
		"publisher": f.publisher,
		"domain":    f.domain,
		"wallet":    f.wallet,
		"campaign":  f.campaign,
		"jwt":       f.jwt,
	}
	for _, name := range names {
		if v := values[name]; v == nil || *v == "" {
			return fmt.Errorf("--%s is required", name)
		}
	}
	return nil
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, "error:", err)
	var te *prism.TimeoutError
	if errors.As(err, &te) {
		return 3
	}
	return 1
}
