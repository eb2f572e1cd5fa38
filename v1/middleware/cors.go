package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig builds a config from a comma-separated list of origins,
// typically the portal URL plus any extras from configuration.
func DefaultCORSConfig(origins string) CORSConfig {
	var allowed []string
	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed = append(allowed, origin)
		}
	}

	return CORSConfig{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "Origin"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
}

// CORSMiddleware returns a middleware enforcing the given CORS policy.
// A wildcard origin combined with credentials is a misconfiguration and
// panics at startup.
func CORSMiddleware(config CORSConfig) func(http.Handler) http.Handler {
	wildcard := false
	for _, origin := range config.AllowedOrigins {
		if origin == "*" {
			wildcard = true
		}
	}
	if wildcard && config.AllowCredentials {
		panic("middleware: CORS wildcard origin cannot be combined with credentials")
	}

	methods := strings.Join(config.AllowedMethods, ", ")
	headers := strings.Join(config.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			w.Header().Add("Vary", "Origin")

			if origin != "" {
				allowed := ""
				if wildcard {
					allowed = "*"
				} else {
					for _, candidate := range config.AllowedOrigins {
						if candidate == origin {
							allowed = origin
							break
						}
					}
				}

				if allowed != "" {
					w.Header().Set("Access-Control-Allow-Origin", allowed)
					if methods != "" {
						w.Header().Set("Access-Control-Allow-Methods", methods)
					}
					if headers != "" {
						w.Header().Set("Access-Control-Allow-Headers", headers)
					}
					if config.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}
					if config.MaxAge > 0 {
						w.Header().Set("Access-Control-Max-Age", strconv.Itoa(config.MaxAge))
					}
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewCORSMiddleware is a convenience wrapper over CORSMiddleware with the
// default policy for the given origins.
func NewCORSMiddleware(origins string) func(http.Handler) http.Handler {
	return CORSMiddleware(DefaultCORSConfig(origins))
}
