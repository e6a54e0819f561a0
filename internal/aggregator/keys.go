package aggregator

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Key addresses one snapshot row.
type Key struct {
	CampaignID uuid.UUID
	Day        time.Time
}

// Touch is an attribution bucket whose raw records changed during a sync.
type Touch struct {
	UTMCampaign string
	Day         time.Time
}

func dedupeKeys(keys []Key) []Key {
	seen := make(map[Key]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		k.Day = Day(k.Day)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CampaignID != out[j].CampaignID {
			return out[i].CampaignID.String() < out[j].CampaignID.String()
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out
}
