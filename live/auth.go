package live

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken  = errors.New("credential missing")
	ErrBadToken = errors.New("invalid credential")
)

// Identity is the decoded owner of a connection. An identity may own many
// simultaneous connections (multi-device); every live connection owns exactly
// one identity.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Authenticator verifies the bearer credential presented on the websocket
// handshake against the shared secret. It runs exactly once per connection,
// before the upgrade.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

func (a *Authenticator) Authenticate(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrBadToken
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}
	id, _ := claims["sub"].(string)
	if id == "" {
		return nil, ErrBadToken
	}
	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)
	return &Identity{
		ID:    id,
		Name:  name,
		Email: email,
	}, nil
}

// TokenFromRequest extracts the bearer credential from the handshake request:
// the Authorization header when present, else the access_token query parameter
// (browser websocket clients cannot set headers).
func TokenFromRequest(req *http.Request) string {
	ah := req.Header.Get("Authorization")
	if strings.HasPrefix(ah, "Bearer ") {
		return strings.TrimPrefix(ah, "Bearer ")
	}
	return req.URL.Query().Get("access_token")
}
