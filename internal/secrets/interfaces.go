package secrets

import "context"

// Credentials holds the login of the migration target.
type Credentials struct {
	Username string
	Password string
}

// SecretManager reads credentials from a secret backend.
type SecretManager interface {
	// GetCredentials reads usernameKey and passwordKey from the secret at pathOrID.
	GetCredentials(ctx context.Context, pathOrID string, usernameKey string, passwordKey string) (*Credentials, error)

	IsEnabled() bool
}
