package middleware

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/partregistry/internal/core"
)

// MaxOperatorLen caps the X-Operator header recorded as created_by.
const MaxOperatorLen = 100

// Operator stores the X-Operator header in the request context so new
// parts record who created them. The header is attribution only and is not
// verified.
func Operator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := strings.TrimSpace(r.Header.Get("X-Operator"))
		if op != "" {
			if utf8.RuneCountInString(op) > MaxOperatorLen {
				op = string([]rune(op)[:MaxOperatorLen])
			}
			r = r.WithContext(core.ContextWithOperator(r.Context(), op))
		}
		next.ServeHTTP(w, r)
	})
}
