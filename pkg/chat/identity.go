package chat

import (
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

var ErrInvalidIdentity = errors.New("invalid agent identity")

type IdentityKind string

const (
	// IdentityExplicit carries an agent id and name supplied by the caller.
	IdentityExplicit IdentityKind = "explicit"
	// IdentityStoredToken carries only a bearer token read from client storage;
	// the server maps it to an agent.
	IdentityStoredToken IdentityKind = "stored-token"
)

// Identity is the credential set presented on the live handshake and on REST calls.
// It is immutable for the lifetime of one connection.
type Identity struct {
	Kind      IdentityKind
	AgentID   string
	AgentName string
	Token     string
}

func ExplicitIdentity(agentID, agentName, token string) Identity {
	return Identity{
		Kind:      IdentityExplicit,
		AgentID:   strings.TrimSpace(agentID),
		AgentName: strings.TrimSpace(agentName),
		Token:     strings.TrimSpace(token),
	}
}

func StoredTokenIdentity(token string) Identity {
	return Identity{Kind: IdentityStoredToken, Token: strings.TrimSpace(token)}
}

func (i Identity) Validate() error {
	switch i.Kind {
	case IdentityExplicit:
		if i.AgentID == "" {
			return errors.Wrap(ErrInvalidIdentity, "explicit identity requires an agent id")
		}
	case IdentityStoredToken:
		if i.Token == "" {
			return errors.Wrap(ErrInvalidIdentity, "stored-token identity requires a token")
		}
	default:
		return errors.Wrapf(ErrInvalidIdentity, "unknown identity kind %q", i.Kind)
	}
	return nil
}

// Header returns the handshake/request headers for this identity.
func (i Identity) Header() http.Header {
	h := http.Header{}
	i.Apply(h)
	return h
}

func (i Identity) Apply(h http.Header) {
	if i.Token != "" {
		h.Set("Authorization", "Bearer "+i.Token)
	}
	if i.Kind == IdentityExplicit {
		h.Set("X-Agent-Id", i.AgentID)
		if i.AgentName != "" {
			h.Set("X-Agent-Name", i.AgentName)
		}
	}
}

// Label is a log-friendly description that never includes the token.
func (i Identity) Label() string {
	if i.Kind == IdentityExplicit {
		return i.AgentID
	}
	return string(i.Kind)
}
