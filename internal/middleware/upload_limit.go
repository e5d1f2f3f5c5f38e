package middleware

import (
	"fmt"
	"net/http"
)

// multipartSlack covers multipart boundaries and part headers on top of the
// file itself.
const multipartSlack = 1 << 20

// UploadLimit rejects bodies whose declared length already exceeds maxBytes
// and caps the rest, so oversize uploads fail before they are staged.
func UploadLimit(maxBytes int64) func(http.Handler) http.Handler {
	limit := maxBytes + multipartSlack
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				http.Error(w, fmt.Sprintf(`{"error":"upload of %d bytes exceeds limit of %d bytes"}`, r.ContentLength, maxBytes), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
