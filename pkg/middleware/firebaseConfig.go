package middleware

import (
	"context"
	"net/http"

	"mentorChat/pkg/api"
)

type contextKey string

const (
	verifierKey contextKey = "auth"
	uidKey      contextKey = "UID"
)

// FirebaseConfig /* HTTP middleware setting the Firebase token verifier on the
// request's context
func FirebaseConfig(verifier api.TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), verifierKey, verifier)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
		return http.HandlerFunc(fn)
	}
}

func verifierFrom(ctx context.Context) (api.TokenVerifier, bool) {
	verifier, ok := ctx.Value(verifierKey).(api.TokenVerifier)
	return verifier, ok
}

// UserIdFrom returns the UID of the authenticated caller.
func UserIdFrom(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(uidKey).(string)
	return uid, ok && uid != ""
}

// WithUserId is used by tests and internal callers that already know the
// caller's identity.
func WithUserId(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}
