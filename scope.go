package oauth

import "strings"

// CheckScope reports whether everything in the required scope is contained
// in the available scope. Scopes are space-delimited sets of opaque strings;
// comparison is set subset, not string equality. An empty required scope is
// trivially satisfied.
func CheckScope(required, available string) bool {
	requiredSet := strings.Fields(required)
	if len(requiredSet) == 0 {
		return true
	}

	availableSet := make(map[string]struct{})
	for _, s := range strings.Fields(available) {
		availableSet[s] = struct{}{}
	}

	for _, s := range requiredSet {
		if _, ok := availableSet[s]; !ok {
			return false
		}
	}
	return true
}
