package token

import "strings"

// defaultRole is granted to every authenticated subject.
const defaultRole = "user"

// ExtractRoles pulls role grants out of provider token claims. Providers
// deliver roles in several shapes: a direct "roles" claim, namespaced custom
// claims such as "https://example.com/roles", a "permissions" array, or
// "role:"-prefixed OAuth scopes.
func ExtractRoles(claims map[string]any) []string {
	var roles []string

	for key, value := range claims {
		if key == "roles" || strings.HasSuffix(key, "/roles") {
			roles = append(roles, stringSlice(value)...)
		}
	}

	roles = append(roles, stringSlice(claims["permissions"])...)

	if scope, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scope) {
			if strings.HasPrefix(s, "role:") || strings.HasPrefix(s, "role_") {
				roles = append(roles, s)
			}
		}
	}

	return withDefaultRole(dedupe(roles))
}

// internalRoles reads the roles claim of an internally minted token.
func internalRoles(claims map[string]any) []string {
	return withDefaultRole(dedupe(stringSlice(claims["roles"])))
}

func withDefaultRole(roles []string) []string {
	for _, r := range roles {
		if r == defaultRole {
			return roles
		}
	}
	return append(roles, defaultRole)
}

func dedupe(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := roles[:0]
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func stringSlice(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
