package quote

import (
	"net/url"
	"strings"
)

const (
	// DefaultPrimaryBaseURL is used whenever a configured Primary base
	// URL fails to normalize.
	DefaultPrimaryBaseURL = "https://api.jup.ag/swap/v1"

	// DefaultUltraBaseURL is used whenever a configured Ultra base URL
	// fails to normalize.
	DefaultUltraBaseURL = "https://api.jup.ag/ultra"

	// DefaultSecondaryBaseURL is used whenever a configured Secondary
	// base URL fails to normalize.
	DefaultSecondaryBaseURL = "https://open-api.openocean.finance/v4"

	// publicAPIHost is the host that requires an x-api-key.
	publicAPIHost = "api.jup.ag"
)

// normalizeHostOrURL accepts either a bare host ("api.jup.ag") or a
// full URL and returns a scheme://host[/path] string with no trailing
// slash, query, or fragment. On any structural failure it returns
// fallback.
func normalizeHostOrURL(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fallback
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	return u.Scheme + "://" + u.Host + u.Path
}

// NormalizePrimaryBaseURL normalizes a Primary swap-v1 base URL.
func NormalizePrimaryBaseURL(raw string) string {
	return normalizeHostOrURL(raw, DefaultPrimaryBaseURL)
}

// NormalizeUltraBaseURL normalizes an Ultra base URL, tolerating a
// base URL already suffixed with "/ultra" by stripping the duplicate.
func NormalizeUltraBaseURL(raw string) string {
	norm := normalizeHostOrURL(raw, DefaultUltraBaseURL)
	if strings.HasSuffix(norm, "/ultra/ultra") {
		norm = strings.TrimSuffix(norm, "/ultra")
	}
	if !strings.HasSuffix(norm, "/ultra") && !strings.Contains(norm, "/ultra/") {
		norm += "/ultra"
	}
	return norm
}

// NormalizeSecondaryBaseURL normalizes an OpenOcean-style Secondary
// base URL.
func NormalizeSecondaryBaseURL(raw string) string {
	return normalizeHostOrURL(raw, DefaultSecondaryBaseURL)
}

// RequiresAPIKey reports whether baseURL resolved to the public
// rate-limited host that mandates an x-api-key header.
func RequiresAPIKey(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return u.Host == publicAPIHost
}
