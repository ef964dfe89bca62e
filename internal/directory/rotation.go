package directory

import (
	"math/rand/v2"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

// Rotate keeps the first maxWindow-rotateCount members of window and fills the rest
// with pool members, preferring ones not in recent. The result is shuffled
// and newly introduced ids are added to recent.
func Rotate(pool, window []entity.Provider, recent *Recency, maxWindow, rotateCount int, rng *rand.Rand) []entity.Provider {
	if len(pool) == 0 || maxWindow <= 0 {
		return nil
	}
	keepCount := min(len(window), max(0, maxWindow-rotateCount))
	kept := window[:keepCount]

	taken := make(map[string]struct{}, maxWindow)
	for _, p := range kept {
		taken[p.ID] = struct{}{}
	}

	need := maxWindow - len(kept)
	fresh := make([]entity.Provider, 0, need)
	for _, p := range pool {
		if len(fresh) == need {
			break
		}
		if _, ok := taken[p.ID]; ok || recent.Contains(p.ID) {
			continue
		}
		fresh = append(fresh, p)
		taken[p.ID] = struct{}{}
	}
	for _, p := range pool {
		if len(fresh) == need {
			break
		}
		if _, ok := taken[p.ID]; ok {
			continue
		}
		fresh = append(fresh, p)
		taken[p.ID] = struct{}{}
	}

	rotated := make([]entity.Provider, 0, len(kept)+len(fresh))
	rotated = append(rotated, kept...)
	rotated = append(rotated, fresh...)
	rng.Shuffle(len(rotated), func(i, j int) { rotated[i], rotated[j] = rotated[j], rotated[i] })
	if len(rotated) > maxWindow {
		rotated = rotated[:maxWindow]
	}

	for _, p := range fresh {
		recent.Add(p.ID)
	}
	return rotated
}
