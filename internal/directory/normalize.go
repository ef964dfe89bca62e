package directory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ovaphlow/pitchfork/service-directory-go/internal/directory/entity"
)

const storageRefPrefix = "user_uploads/"

// AvatarResolver turns an internal storage reference into a public URL.
type AvatarResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// Normalizer converts raw profile documents into eligible providers.
type Normalizer struct {
	avatars       AvatarResolver
	countries     CountryResolver
	defaultAvatar string
	workers       int
	logger        *zap.SugaredLogger
}

// NewNormalizer builds a Normalizer. A nil avatars resolver defaults every
// storage reference; a nil countries resolver uses DisplayCountries.
func NewNormalizer(avatars AvatarResolver, countries CountryResolver, cfg Config, logger *zap.SugaredLogger) *Normalizer {
	if countries == nil {
		countries = DisplayCountries{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	def := cfg.DefaultAvatar
	if def == "" {
		def = entity.DefaultAvatar
	}
	workers := cfg.NormalizeWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Normalizer{avatars: avatars, countries: countries, defaultAvatar: def, workers: workers, logger: logger}
}

// NormalizeAll converts records concurrently, keeping input order and
// dropping ineligible, malformed and duplicate records.
func (n *Normalizer) NormalizeAll(ctx context.Context, records []entity.Record, locale string) []entity.Provider {
	out := make([]*entity.Provider, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.workers)
	for i, rec := range records {
		g.Go(func() error {
			if p, ok := n.Normalize(gctx, rec, locale); ok {
				out[i] = &p
			}
			return nil
		})
	}
	_ = g.Wait()

	pool := make([]entity.Provider, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, p := range out {
		if p == nil {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		pool = append(pool, *p)
	}
	return pool
}

// Normalize converts one record. ok is false when the record is malformed
// or the resulting provider is not eligible for the public pool.
func (n *Normalizer) Normalize(ctx context.Context, rec entity.Record, locale string) (p entity.Provider, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Warnw("drop malformed profile", "id", rec.ID, "panic", fmt.Sprint(r))
			p, ok = entity.Provider{}, false
		}
	}()
	if strings.TrimSpace(rec.ID) == "" || rec.Data == nil {
		return entity.Provider{}, false
	}
	d := doc(rec.Data)

	first := strings.TrimSpace(d.str("firstName"))
	last := strings.TrimSpace(d.str("lastName"))
	full := d.str("fullName")
	if full == "" {
		full = strings.TrimSpace(first + " " + last)
	}
	if full == "" {
		full = "Expert"
	}
	name := full
	if first != "" && last != "" {
		name = first + " " + string([]rune(last)[:1]) + "."
	}

	kind := entity.KindExpat
	if d.str("type") == string(entity.KindLawyer) {
		kind = entity.KindLawyer
	}

	code := d.firstStr("currentPresenceCountry", "country", "currentCountry")
	if code == "" {
		code = "FR"
	}

	role := strings.ToLower(d.str("role"))
	online := d.boolTrue("isOnline")
	availability := entity.Availability(d.str("availability"))
	if availability == "" {
		availability = entity.AvailabilityOffline
		if online {
			availability = entity.AvailabilityAvailable
		}
	}

	practice := d.strs("practiceCountries")
	if len(practice) == 0 {
		practice = d.strs("operatingCountries")
	}
	if practice == nil {
		practice = []string{}
	}
	languages := d.strs("languages")
	if languages == nil {
		languages = []string{"fr"}
	}
	specialties := d.strs("specialties")
	if specialties == nil {
		specialties = []string{}
	}

	rating := 4.5
	if v, isNum := d.num("rating"); isNum && v >= 0 && v <= 5 {
		rating = v
	}
	reviews := 0
	if v, isInt := d.count("reviewCount"); isInt {
		reviews = v
	}
	years := 0
	if v, isInt := d.count("yearsOfExperience"); isInt {
		years = v
	} else if v, isInt := d.count("yearsAsExpat"); isInt {
		years = v
	}
	price, duration := 19.0, 30
	if kind == entity.KindLawyer {
		price, duration = 49, 20
	}
	if v, isNum := d.num("price"); isNum {
		price = v
	}
	if v, isInt := d.count("duration"); isInt && v > 0 {
		duration = v
	}

	description := d.str("description")
	if description == "" {
		description = d.str("bio")
	}

	p = entity.Provider{
		ID:                rec.ID,
		Name:              name,
		FullName:          full,
		Slug:              d.str("slug"),
		Kind:              kind,
		CountryCode:       code,
		Country:           n.countries.CountryName(code, locale),
		PracticeCountries: practice,
		Languages:         languages,
		Specialties:       specialties,
		Rating:            rating,
		ReviewCount:       reviews,
		YearsOfExperience: years,
		Description:       description,
		Price:             price,
		Duration:          duration,
		IsOnline:          online,
		Availability:      availability,
		BusyReason:        d.str("busyReason"),
		IsApproved:        d.boolTrue("isApproved"),
		IsVisible:         !d.boolFalse("isVisible"),
		IsBanned:          d.boolTrue("isBanned"),
		IsActive:          !d.boolFalse("isActive"),
		IsVerified:        d.boolTrue("isVerified"),
		IsPrivileged:      d.boolTrue("isAdmin") || role == "admin",
	}
	if !p.Eligible() {
		return entity.Provider{}, false
	}
	p.Avatar = n.avatar(ctx, rec.ID, d.firstStr("profilePhoto", "photoURL", "avatar"))
	p.ProfilePath = entity.ProfilePath(p)
	return p, true
}

func (n *Normalizer) avatar(ctx context.Context, id, ref string) string {
	switch {
	case strings.HasPrefix(ref, storageRefPrefix):
		if n.avatars == nil {
			return n.defaultAvatar
		}
		url, err := n.avatars.ResolveURL(ctx, ref)
		if err != nil || url == "" {
			n.logger.Debugw("avatar resolution failed", "id", id, "ref", ref, "err", err)
			return n.defaultAvatar
		}
		return url
	case strings.HasPrefix(ref, "http"):
		return ref
	default:
		return n.defaultAvatar
	}
}

// doc wraps an untyped document with type-guarded accessors.
type doc map[string]any

func (d doc) str(key string) string {
	s, _ := d[key].(string)
	return s
}

func (d doc) firstStr(keys ...string) string {
	for _, k := range keys {
		if s := d.str(k); s != "" {
			return s
		}
	}
	return ""
}

func (d doc) boolTrue(key string) bool {
	b, ok := d[key].(bool)
	return ok && b
}

func (d doc) boolFalse(key string) bool {
	b, ok := d[key].(bool)
	return ok && !b
}

// num accepts JSON numbers only, rejecting NaN and infinities.
func (d doc) num(key string) (float64, bool) {
	var v float64
	switch x := d[key].(type) {
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// count accepts numbers in [0, math.MaxInt32], truncated toward zero.
func (d doc) count(key string) (int, bool) {
	v, ok := d.num(key)
	if !ok || v < 0 || v > math.MaxInt32 {
		return 0, false
	}
	return int(v), true
}

// strs returns the string elements of a list field, or nil if the field is
// not a list.
func (d doc) strs(key string) []string {
	raw, ok := d[key].([]any)
	if !ok {
		if ss, ok := d[key].([]string); ok {
			return append([]string{}, ss...)
		}
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
