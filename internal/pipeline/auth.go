package pipeline

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

// authClaims is the token payload the auth stage understands.
type authClaims struct {
	Email  string   `json:"email,omitempty"`
	Groups []string `json:"groups,omitempty"`
	Admin  bool     `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// AuthStage verifies the request's bearer token and resolves the user.
// It runs concurrently with input validation and only writes
// Context.User.
type AuthStage struct {
	secret []byte
	logger *observability.Logger

	// allowAnonymous admits tokenless requests as an anonymous
	// non-admin user. Intended for local development only.
	allowAnonymous bool
}

// NewAuthStage creates the auth stage. An empty secret with
// allowAnonymous false rejects every request.
func NewAuthStage(secret []byte, allowAnonymous bool, logger *observability.Logger) *AuthStage {
	return &AuthStage{secret: secret, allowAnonymous: allowAnonymous, logger: logger}
}

func (s *AuthStage) Name() StageName { return StageAuth }

func (s *AuthStage) Execute(ctx context.Context, rc *Context) error {
	token := rc.Request.AuthToken
	if token == "" {
		if s.allowAnonymous {
			rc.User = models.User{ID: "anonymous"}
			return nil
		}
		return NewPipelineError(StageAuth, CodeAuthFailed, fmt.Errorf("missing auth token")).
			WithDiagnostics("check that the client sends an Authorization header")
	}

	claims := &authClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return NewPipelineError(StageAuth, CodeAuthFailed, err).
			WithDiagnostics("verify the signing secret matches the token issuer")
	}
	if !parsed.Valid || claims.Subject == "" {
		return NewPipelineError(StageAuth, CodeAuthFailed, fmt.Errorf("token has no subject"))
	}

	rc.User = models.User{
		ID:      claims.Subject,
		Email:   claims.Email,
		Groups:  claims.Groups,
		IsAdmin: claims.Admin,
	}
	s.logger.Debug("authenticated request", "user_id", rc.User.ID, "admin", rc.User.IsAdmin)
	return nil
}
