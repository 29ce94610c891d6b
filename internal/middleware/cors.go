package middleware

import "net/http"

// CORS answers preflight requests and tags responses for the configured origin.
func CORS(origin, identityHeader string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	allowHeaders := "Content-Type, Authorization"
	if identityHeader != "" {
		allowHeaders += ", " + identityHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
