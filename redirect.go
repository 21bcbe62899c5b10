package oauth

import (
	"net/url"
	"strings"
)

// ValidateRedirectURI reports whether a supplied redirect URI is acceptable
// for a registered one. The registered URI must be a case-insensitive prefix
// of the supplied URI, so `https://ex.com/cb?x=1` matches a registered
// `https://ex.com/cb` but `https://evil.com` never does. Both values must be
// non-empty.
func ValidateRedirectURI(input, registered string) bool {
	if input == "" || registered == "" {
		return false
	}
	if len(input) < len(registered) {
		return false
	}
	return strings.EqualFold(input[:len(registered)], registered)
}

// BuildRedirectURI appends query and fragment parameters to a redirect URI,
// preserving any query string or fragment the URI already carries. Used for
// both success redirects (code in the query, implicit tokens in the
// fragment) and redirectable errors.
func BuildRedirectURI(baseURI string, query, fragment url.Values) string {
	parsed, err := url.Parse(baseURI)
	if err != nil {
		// The URI was validated before any redirect is composed; a parse
		// failure here means the caller skipped validation.
		return baseURI
	}

	if len(query) > 0 {
		if parsed.RawQuery != "" {
			parsed.RawQuery += "&" + query.Encode()
		} else {
			parsed.RawQuery = query.Encode()
		}
	}

	if len(fragment) > 0 {
		if parsed.Fragment != "" {
			parsed.Fragment += "&" + fragment.Encode()
		} else {
			parsed.Fragment = fragment.Encode()
		}
		// Encode ourselves so the fragment keeps x-www-form-urlencoded form
		parsed.RawFragment = ""
	}

	return parsed.String()
}

// isAbsoluteURI reports whether a string parses as an absolute URI with a
// scheme and host, which is how extension grant types are identified.
func isAbsoluteURI(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.IsAbs() && u.Host != ""
}
