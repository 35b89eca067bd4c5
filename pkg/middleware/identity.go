package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/tallyworks/tally/pkg/access"
	"github.com/tallyworks/tally/pkg/contextkeys"
)

// UserChecker reports whether a user id names an existing, active user.
type UserChecker interface {
	UserActive(ctx context.Context, userID string) (bool, error)
}

// UserIdentity resolves the calling user from the X-User-ID header. The
// surrounding deployment terminates real authentication upstream; this
// service only needs a trusted identity to resolve scopes against.
//
// On success the user id lands on the request context along with a
// memoized scope resolution that later authorization calls share.
type UserIdentity struct {
	checker  UserChecker
	resolver *access.Resolver
}

// NewUserIdentity creates the identity middleware.
func NewUserIdentity(checker UserChecker, resolver *access.Resolver) *UserIdentity {
	return &UserIdentity{checker: checker, resolver: resolver}
}

// Handler wraps an HTTP handler with identity resolution.
func (m *UserIdentity) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			unauthorizedResponse(w, "missing X-User-ID header")
			return
		}
		if _, err := uuid.Parse(userID); err != nil {
			unauthorizedResponse(w, "malformed user id")
			return
		}

		active, err := m.checker.UserActive(r.Context(), userID)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"failed to resolve user"}`))
			return
		}
		if !active {
			unauthorizedResponse(w, "unknown or inactive user")
			return
		}

		ctx := contextkeys.WithUserID(r.Context(), userID)
		ctx = access.WithRequestScope(ctx, access.NewRequestScope(m.resolver, userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserIDFromRequest extracts the resolved user id from a request.
func UserIDFromRequest(r *http.Request) string {
	return contextkeys.GetUserID(r.Context())
}

func unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
