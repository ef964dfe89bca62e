package entity

import (
	"slices"
	"strings"
	"time"
)

// Kind is the closed set of provider categories listed in the public directory.
type Kind string

const (
	KindLawyer Kind = "lawyer"
	KindExpat  Kind = "expat"
)

// Valid reports whether k is one of the listed kinds.
func (k Kind) Valid() bool { return k == KindLawyer || k == KindExpat }

// Availability is the finer-grained presence state carried next to IsOnline.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

// DefaultAvatar is the sentinel avatar reference for providers without a usable photo.
const DefaultAvatar = "/default-avatar.png"

// Provider is one normalized directory entry. It is rebuilt from raw records
// on every fetch; only the presence fields change afterwards.
type Provider struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	FullName          string       `json:"full_name"`
	Slug              string       `json:"slug,omitempty"`
	ProfilePath       string       `json:"profile_path"`
	Kind              Kind         `json:"type"`
	CountryCode       string       `json:"country_code"`
	Country           string       `json:"country"`
	PracticeCountries []string     `json:"practice_countries"`
	Languages         []string     `json:"languages"`
	Specialties       []string     `json:"specialties"`
	Rating            float64      `json:"rating"`
	ReviewCount       int          `json:"review_count"`
	YearsOfExperience int          `json:"years_of_experience"`
	Avatar            string       `json:"avatar"`
	Description       string       `json:"description"`
	Price             float64      `json:"price"`
	Duration          int          `json:"duration"`
	IsOnline          bool         `json:"is_online"`
	Availability      Availability `json:"availability"`
	BusyReason        string       `json:"busy_reason,omitempty"`
	IsApproved        bool         `json:"is_approved"`
	IsVisible         bool         `json:"is_visible"`
	IsBanned          bool         `json:"is_banned"`
	IsActive          bool         `json:"is_active"`
	IsVerified        bool         `json:"is_verified"`

	// IsPrivileged marks admin accounts; they never enter the public pool.
	IsPrivileged bool `json:"-"`
}

// Eligible reports whether p may appear in the public pool.
func (p Provider) Eligible() bool {
	return p.IsApproved &&
		p.IsVisible &&
		!p.IsBanned &&
		!p.IsPrivileged &&
		p.Kind.Valid() &&
		strings.TrimSpace(p.Name) != "" &&
		strings.TrimSpace(p.Country) != ""
}

// HasPhoto reports whether the avatar is a real photo rather than the default.
func (p Provider) HasPhoto() bool {
	a := strings.TrimSpace(p.Avatar)
	return a != "" && a != DefaultAvatar
}

// Clone returns a copy of p that shares no slices with it.
func (p Provider) Clone() Provider {
	p.PracticeCountries = slices.Clone(p.PracticeCountries)
	p.Languages = slices.Clone(p.Languages)
	p.Specialties = slices.Clone(p.Specialties)
	return p
}

// ProfilePath builds the public profile path of p, e.g. /avocat/jean-d--abc123.
func ProfilePath(p Provider) string {
	section := "expatrie"
	if p.Kind == KindLawyer {
		section = "avocat"
	}
	slug := p.Slug
	if slug == "" {
		slug = Slugify(p.Name)
	}
	if !strings.Contains(slug, p.ID) {
		slug = slug + "-" + p.ID
	}
	return "/" + section + "/" + slug
}

// Stats summarizes a pool.
type Stats struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Lawyers int `json:"lawyers"`
	Expats  int `json:"expats"`
}

// ComputeStats counts online providers and kinds in pool.
func ComputeStats(pool []Provider) Stats {
	s := Stats{Total: len(pool)}
	for _, p := range pool {
		if p.IsOnline {
			s.Online++
		}
		switch p.Kind {
		case KindLawyer:
			s.Lawyers++
		case KindExpat:
			s.Expats++
		}
	}
	return s
}

// Snapshot is the consumer-facing view of one directory session.
// It never aliases engine state.
type Snapshot struct {
	Window    []Provider `json:"window"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	Stats     Stats      `json:"stats"`
	Rotation  int        `json:"rotation"`
	Armed     bool       `json:"rotation_armed"`
	UpdatedAt time.Time  `json:"updated_at"`
}
