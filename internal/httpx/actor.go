package httpx

import (
	"net/http"
	"strings"

	"github.com/ariefcatur/storefront-orders/internal/orders"
)

// Authentication happens upstream; the gateway forwards the caller's identity.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

func actorFrom(r *http.Request) orders.Actor {
	role := orders.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
	switch role {
	case orders.RoleMerchant, orders.RoleAdmin:
	default:
		role = orders.RoleCustomer
	}
	return orders.Actor{ID: strings.TrimSpace(r.Header.Get(HeaderUserID)), Role: role}
}
