package sdk

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// GPPAPI is the in-page global consent API (window.__gpp), when the host
// page has a CMP installed.
type GPPAPI interface {
	// GPPString returns the encoded GPP consent string.
	GPPString(ctx context.Context) (string, error)
}

// consentCookieChain is the fallback cookie lookup order: GPP first, then
// US Privacy, then TCF.
var consentCookieChain = []string{"gpp", "usprivacy", "euconsent-v2"}

// ConsentResolver obtains a privacy consent string from the page. One
// attempt per call: the GPP API when present, else the cookie chain.
type ConsentResolver struct {
	GPP     GPPAPI // nil when the page exposes no GPP API
	Cookies KVStore
	Log     zerolog.Logger
}

// Resolve returns the consent string for the current visitor. It never
// fails: API absence, API errors and empty results all fall back to
// cookies, and ok is false only when no source had a value. Callers
// normalize a missing value to "" before sending it to the backend.
func (r *ConsentResolver) Resolve(ctx context.Context) (consent string, ok bool) {
	if r.GPP != nil {
		s, err := r.GPP.GPPString(ctx)
		if err == nil && s != "" {
			return s, true
		}
		if err != nil {
			r.Log.Warn().Err(err).Msg("gpp api call failed, falling back to cookies")
		}
	}
	return r.fromCookies()
}

func (r *ConsentResolver) fromCookies() (string, bool) {
	if r.Cookies == nil {
		return "", false
	}
	for _, name := range consentCookieChain {
		v, err := r.Cookies.Get(name)
		if err != nil {
			r.Log.Warn().Err(err).Str("cookie", name).Msg("consent cookie read failed")
			continue
		}
		if v != "" {
			return v, true
		}
	}
	return "", false
}

// SetUSPrivacyCookie writes the usprivacy cookie with the given expiry in
// days (365 when days <= 0), path "/" and SameSite=Lax.
func SetUSPrivacyCookie(jar CookieJar, value string, days int) error {
	if days <= 0 {
		days = 365
	}
	return jar.SetWithAttributes("usprivacy", value, CookieAttributes{
		MaxAge:   time.Duration(days) * 24 * time.Hour,
		Path:     "/",
		SameSite: "Lax",
	})
}
