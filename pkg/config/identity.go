package config

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/go-go-golems/inbox/pkg/chat"
	"github.com/go-go-golems/inbox/pkg/persistence/credstore"
)

var ErrNoStoredToken = errors.New("no stored token, run `inbox token set` first")

// Identity builds the session identity. In token mode an explicit agent.token
// wins over the credential store.
func (s Settings) Identity(ctx context.Context, store credstore.Store) (chat.Identity, error) {
	switch s.Agent.Mode {
	case AgentModeToken:
		token := s.Agent.Token
		if token == "" {
			if store == nil {
				return chat.Identity{}, ErrNoStoredToken
			}
			c, ok, err := store.Load(ctx, s.Credentials.Profile)
			if err != nil {
				return chat.Identity{}, err
			}
			if !ok {
				return chat.Identity{}, ErrNoStoredToken
			}
			token = c.Token
		}
		id := chat.StoredTokenIdentity(token)
		return id, id.Validate()
	default:
		agentID, name := s.Agent.ID, s.Agent.Name
		if agentID == "" {
			agentID = DefaultAgentID
		}
		if name == "" {
			name = DefaultAgentName
		}
		id := chat.ExplicitIdentity(agentID, name, s.Agent.Token)
		return id, id.Validate()
	}
}

// CredentialsPath expands environment references in credentials.path.
func (s Settings) CredentialsPath() string {
	return os.ExpandEnv(s.Credentials.Path)
}
