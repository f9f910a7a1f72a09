package api

import (
	"net/http"
	"strings"

	"github.com/okian/happenin/internal/domain/model"
)

// Identity headers set by the upstream session layer.
const (
	HeaderParticipantEmail = "X-Participant-Email"
	HeaderParticipantName  = "X-Participant-Name"
)

// Authenticator resolves the calling participant. Sessions are owned by an
// external layer; the API only consumes the resulting identity.
type Authenticator interface {
	Authenticate(r *http.Request) (model.Member, error)
}

// HeaderAuthenticator trusts the identity headers of the upstream session
// layer.
type HeaderAuthenticator struct{}

// Authenticate returns ErrUnauthorized when no identity is present.
func (HeaderAuthenticator) Authenticate(r *http.Request) (model.Member, error) {
	email := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderParticipantEmail)))
	if email == "" {
		return model.Member{}, ErrUnauthorized
	}
	return model.Member{
		Email:    email,
		FullName: strings.TrimSpace(r.Header.Get(HeaderParticipantName)),
	}, nil
}
