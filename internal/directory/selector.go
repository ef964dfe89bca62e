package directory

import (
	"math/rand/v2"
	"slices"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// prioritize orders pool as online-then-offline; within each group providers
// with a photo come first and ties are in random order.
func prioritize(pool []entity.Provider, rng *rand.Rand) []entity.Provider {
	online := make([]entity.Provider, 0, len(pool))
	offline := make([]entity.Provider, 0, len(pool))
	for _, p := range pool {
		if p.IsOnline {
			online = append(online, p)
		} else {
			offline = append(offline, p)
		}
	}
	photoFirst(online, rng)
	photoFirst(offline, rng)
	return append(online, offline...)
}

func photoFirst(ps []entity.Provider, rng *rand.Rand) {
	rng.Shuffle(len(ps), func(i, j int) { ps[i], ps[j] = ps[j], ps[i] })
	slices.SortStableFunc(ps, func(a, b entity.Provider) int {
		switch {
		case a.HasPhoto() == b.HasPhoto():
			return 0
		case a.HasPhoto():
			return -1
		default:
			return 1
		}
	})
}

// Select computes the initial visible window from pool. Providers in recent
// are skipped first; if that leaves the window short, recent ones backfill it.
// Every selected id is added to recent.
func Select(pool []entity.Provider, recent *Recency, maxWindow int, rng *rand.Rand) []entity.Provider {
	if len(pool) == 0 || maxWindow <= 0 {
		return nil
	}
	prioritized := prioritize(pool, rng)

	selected := make([]entity.Provider, 0, min(maxWindow, len(prioritized)))
	taken := make(map[string]struct{}, cap(selected))
	for _, p := range prioritized {
		if len(selected) == maxWindow {
			break
		}
		if recent.Contains(p.ID) {
			continue
		}
		selected = append(selected, p)
		taken[p.ID] = struct{}{}
	}
	for _, p := range prioritized {
		if len(selected) == maxWindow {
			break
		}
		if _, ok := taken[p.ID]; ok {
			continue
		}
		selected = append(selected, p)
		taken[p.ID] = struct{}{}
	}

	for _, p := range selected {
		recent.Add(p.ID)
	}
	return selected
}
