package port

import "context"

type IdempotencyStore interface {
	// Acquire claims key. When the key is already held it returns acquired=false
	// and the result recorded by Complete, which is empty while still in flight.
	Acquire(ctx context.Context, key string) (result string, acquired bool, err error)

	// Complete records the outcome for a claimed key
	Complete(ctx context.Context, key, result string) error

	// Abandon drops a claim so that the request can be retried
	Abandon(ctx context.Context, key string) error
}

type SessionResolver interface {
	// Resolve maps a bearer token to the principal it was issued for
	Resolve(ctx context.Context, token string) (Principal, error)
}

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
)

type Principal struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
