package devserver

import (
	"encoding/binary"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/0gfoundation/prism-sdk/internal/config"
)

// Campaign is an ad the emulator can award.
type Campaign struct {
	ID        string
	Name      string
	BannerURI string
	URL       string
}

// DefaultCampaigns are served when the config file lists none.
var DefaultCampaigns = []Campaign{
	{ID: "camp-0001", Name: "Galileo Testnet", BannerURI: "ipfs://bafybeigalileobanner", URL: "https://0g.ai"},
	{ID: "camp-0002", Name: "Storage Nodes", BannerURI: "ipfs://bafybeistoragebanner", URL: "https://docs.0g.ai/run-a-node/storage-node"},
	{ID: "camp-0003", Name: "Compute Network", BannerURI: "ipfs://bafybeicomputebanner", URL: "https://docs.0g.ai/concepts/compute"},
}

// CampaignsFromConfig converts configured campaigns, falling back to
// DefaultCampaigns.
func CampaignsFromConfig(cc []config.CampaignConfig) []Campaign {
	if len(cc) == 0 {
		return DefaultCampaigns
	}
	out := make([]Campaign, 0, len(cc))
	for _, c := range cc {
		if c.ID == "" {
			continue
		}
		out = append(out, Campaign{ID: c.ID, Name: c.Name, BannerURI: c.BannerURI, URL: c.URL})
	}
	return out
}

// Select picks a campaign deterministically from the auction inputs, so the
// same publisher, domain and wallet always win the same campaign.
func Select(campaigns []Campaign, publisher, domain, wallet string) (Campaign, bool) {
	if len(campaigns) == 0 {
		return Campaign{}, false
	}
	h := crypto.Keccak256([]byte(strings.ToLower(publisher)), []byte(domain), []byte(strings.ToLower(wallet)))
	i := binary.BigEndian.Uint64(h[:8]) % uint64(len(campaigns))
	return campaigns[i], true
}

func find(campaigns []Campaign, id string) (Campaign, bool) {
	for _, c := range campaigns {
		if c.ID == id {
			return c, true
		}
	}
	return Campaign{}, false
}
