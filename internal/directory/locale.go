package directory

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// queryLanguages maps UI locales to the language codes stored on profiles.
var queryLanguages = map[string]string{
	"fr": "fr", "en": "en", "es": "es", "de": "de",
	"pt": "pt", "ru": "ru", "ch": "zh", "hi": "hi", "ar": "ar",
}

// QueryLanguage returns the profile language code for a UI locale hint,
// falling back to fallback (or "fr") for unknown hints.
func QueryLanguage(hint, fallback string) string {
	h := strings.ToLower(strings.TrimSpace(hint))
	if i := strings.IndexAny(h, "-_"); i > 0 {
		h = h[:i]
	}
	if l, ok := queryLanguages[h]; ok {
		return l
	}
	if l, ok := queryLanguages[fallback]; ok {
		return l
	}
	return "fr"
}

// CountryResolver turns a country code into a display label for a locale.
type CountryResolver interface {
	CountryName(code, locale string) string
}

// DisplayCountries resolves region names from the CLDR tables bundled with x/text.
type DisplayCountries struct{}

// CountryName returns the localized name of code, or code itself when it
// is not a known region.
func (DisplayCountries) CountryName(code, locale string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	region, err := language.ParseRegion(code)
	if err != nil {
		return code
	}
	tag, err := language.Parse(QueryLanguage(locale, "fr"))
	if err != nil {
		tag = language.French
	}
	namer := display.Regions(tag)
	if namer == nil {
		return code
	}
	if name := namer.Name(region); name != "" {
		return name
	}
	return code
}
