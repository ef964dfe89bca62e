package directory

// Recency is a bounded insertion-ordered set of recently shown provider ids.
// When it grows past its high-water mark the oldest trim entries are dropped
// in one pass. It is not safe for concurrent use; an Engine owns it.
type Recency struct {
	order     []string
	members   map[string]struct{}
	highWater int
	trim      int
}

// NewRecency returns an empty tracker. trim is clamped to [1, highWater].
func NewRecency(highWater, trim int) *Recency {
	if highWater < 1 {
		highWater = 1
	}
	if trim < 1 {
		trim = 1
	}
	if trim > highWater {
		trim = highWater
	}
	return &Recency{
		order:     make([]string, 0, highWater+1),
		members:   make(map[string]struct{}, highWater+1),
		highWater: highWater,
		trim:      trim,
	}
}

// Add marks id as recently shown. Re-adding an id keeps its original position.
func (r *Recency) Add(id string) {
	if _, ok := r.members[id]; ok {
		return
	}
	r.members[id] = struct{}{}
	r.order = append(r.order, id)
	if len(r.order) > r.highWater {
		for _, old := range r.order[:r.trim] {
			delete(r.members, old)
		}
		r.order = append(r.order[:0], r.order[r.trim:]...)
	}
}

// Contains reports whether id was shown recently.
func (r *Recency) Contains(id string) bool {
	_, ok := r.members[id]
	return ok
}

// Len returns the number of tracked ids.
func (r *Recency) Len() int { return len(r.order) }
