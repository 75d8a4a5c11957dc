package requester

import (
	"fmt"
	"net/http"
)

// AuthManager handles request authentication
type AuthManager interface {
	ApplyAuth(req *http.Request) error
}

// APIKeyAuthManager authenticates with a Supabase-style service key, sent both as the
// apikey header and as a bearer token
type APIKeyAuthManager struct {
	key string
}

func NewAPIKeyAuthManager(key string) *APIKeyAuthManager {
	return &APIKeyAuthManager{key: key}
}

// ApplyAuth adds authentication to the request
func (a *APIKeyAuthManager) ApplyAuth(req *http.Request) error {
	if a.key == "" {
		return fmt.Errorf("api key is empty")
	}
	req.Header.Set("apikey", a.key)
	req.Header.Set("Authorization", "Bearer "+a.key)
	return nil
}
