package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/voxchat/backend/internal/model/chat"
	"github.com/zhouzirui/voxchat/backend/pkg/utils"
)

type ownerKey struct{}

// Identity reads the owner id that an upstream gateway has already verified
// and stores it on the request context. Requests without one get 401.
func Identity(header string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner := strings.TrimSpace(r.Header.Get(header))
			if owner == "" {
				_ = utils.RespondServiceError(w, chat.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// WithOwner returns a context carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner id set by Identity, or "".
func OwnerFrom(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
