package devserver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statsKeyPrefix      = "prism:campaign:"
	impressionKeyPrefix = "prism:impression:"
)

// Stats are the per-campaign counters kept by the emulator.
type Stats struct {
	CampaignID  string `json:"campaignId"`
	Auctions    int64  `json:"auctions"`
	Clicks      int64  `json:"clicks"`
	Impressions int64  `json:"impressions"`
}

// Ledger stores tracking counters in redis hashes.
type Ledger struct {
	rdb *redis.Client
}

func NewLedger(rdb *redis.Client) *Ledger { return &Ledger{rdb: rdb} }

func statsKey(campaignID string) string { return statsKeyPrefix + campaignID }

func (l *Ledger) incr(ctx context.Context, campaignID, field string) error {
	pipe := l.rdb.TxPipeline()
	pipe.HSetNX(ctx, statsKey(campaignID), "campaign_id", campaignID)
	pipe.HIncrBy(ctx, statsKey(campaignID), field, 1)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Ledger) RecordAuction(ctx context.Context, campaignID string) error {
	return l.incr(ctx, campaignID, "auctions")
}

func (l *Ledger) RecordClick(ctx context.Context, campaignID string) error {
	return l.incr(ctx, campaignID, "clicks")
}

// RecordImpression counts an impression once per token ID. It reports false
// for a repeat within ttl.
func (l *Ledger) RecordImpression(ctx context.Context, campaignID, tokenID string, ttl time.Duration) (bool, error) {
	first, err := l.rdb.SetNX(ctx, impressionKeyPrefix+tokenID, campaignID, ttl).Result()
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}
	return true, l.incr(ctx, campaignID, "impressions")
}

// GetStats returns nil when the campaign has no recorded activity.
func (l *Ledger) GetStats(ctx context.Context, campaignID string) (*Stats, error) {
	vals, err := l.rdb.HGetAll(ctx, statsKey(campaignID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return statsFromMap(vals), nil
}

// ScanAllStats returns the counters of every campaign seen so far.
func (l *Ledger) ScanAllStats(ctx context.Context) ([]Stats, error) {
	var out []Stats
	var cursor uint64
	for {
		keys, next, err := l.rdb.Scan(ctx, cursor, statsKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		for _, key := range keys {
			vals, err := l.rdb.HGetAll(ctx, key).Result()
			if err != nil || len(vals) == 0 {
				continue
			}
			out = append(out, *statsFromMap(vals))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return out, nil
}

func statsFromMap(m map[string]string) *Stats {
	auctions, _ := strconv.ParseInt(m["auctions"], 10, 64)
	clicks, _ := strconv.ParseInt(m["clicks"], 10, 64)
	impressions, _ := strconv.ParseInt(m["impressions"], 10, 64)
	return &Stats{
		CampaignID:  m["campaign_id"],
		Auctions:    auctions,
		Clicks:      clicks,
		Impressions: impressions,
	}
}
