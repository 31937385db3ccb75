package utils

import "strings"

// ExtractTokenFromHeader pulls the token out of a "Bearer <token>"
// Authorization header. Returns "" for any other shape.
func ExtractTokenFromHeader(authHeader string) string {
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}
