package auth

import (
	"context"
	"net/http"
)

// DevAuthenticator returns a fixed identity. Local development only.
type DevAuthenticator struct {
	Subject string
	Email   string
	Roles   []string
}

func (a DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{
		Subject: a.Subject,
		Email:   a.Email,
		Roles:   a.Roles,
	}, nil
}
