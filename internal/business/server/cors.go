package server

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// corsMiddleware lets the frontend call the auth API with its cookies. No
// origin is granted when the frontend is not configured.
func corsMiddleware(allowedOrigin string, next http.Handler) http.Handler {
	allowedOrigin = strings.TrimSuffix(allowedOrigin, "/")
	if allowedOrigin == "" {
		return next
	}

	return cors.New(cors.Options{
		AllowedOrigins:   []string{allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	}).Handler(next)
}
