package secrets

import "context"

// Store persists named secrets such as provider API keys. An empty stored
// value is reported as absent.
type Store interface {
	Get(ctx context.Context, name string) (string, bool, error)
	Save(ctx context.Context, name, value string) error
	Delete(ctx context.Context, name string) error
}

// APIKeyName is the secret under which the chat provider credential lives.
const APIKeyName = "chat_api_key"

// Credential adapts a Store to the chat client's credential source,
// reading one named secret at request time.
type Credential struct {
	Store Store
	Name  string
}

func (c Credential) Credential(ctx context.Context) (string, error) {
	if c.Store == nil {
		return "", nil
	}
	name := c.Name
	if name == "" {
		name = APIKeyName
	}
	value, ok, err := c.Store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return value, nil
}
