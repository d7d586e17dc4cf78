package shield

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth returns middleware enforcing HTTP basic auth against a bcrypt
// password hash. The username compares in constant time; bcrypt handles the
// password side.
func BasicAuth(username, passwordHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
				bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="pageshot"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
