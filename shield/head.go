package shield

import "net/http"

// HeadToGet lets HEAD requests to GET routes (health checks, uptime monitors)
// succeed instead of hitting 405. net/http drops the body for HEAD.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
