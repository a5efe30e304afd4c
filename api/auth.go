package api

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const defaultJWKSCacheTTL = 15 * time.Minute

const (
	// AuthModeHS256 verifies tokens signed with a shared secret, as issued
	// by the local credential login.
	AuthModeHS256 = "hs256"
	// AuthModeJWKS verifies RS256 tokens against a JWKS endpoint, such as
	// Google sign-in.
	AuthModeJWKS = "jwks"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

// AuthConfig selects how bearer tokens are verified.
type AuthConfig struct {
	Mode        string
	Secret      []byte
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	KeyCacheTTL time.Duration
}

// Auth validates incoming JWT tokens and resolves the owner id.
type Auth struct {
	cfg         AuthConfig
	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates a new Auth instance.
func NewAuth(cfg AuthConfig) (*Auth, error) {
	a := &Auth{cfg: cfg, keyCacheTTL: cfg.KeyCacheTTL}
	if a.keyCacheTTL == 0 {
		a.keyCacheTTL = defaultJWKSCacheTTL
	}
	switch strings.ToLower(cfg.Mode) {
	case AuthModeHS256:
		if len(cfg.Secret) == 0 {
			return nil, errors.New("auth: shared secret is required for hs256 mode")
		}
		a.cfg.Mode = AuthModeHS256
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	case AuthModeJWKS:
		if cfg.JWKS == nil {
			return nil, errors.New("auth: jwks is required for jwks mode")
		}
		a.cfg.Mode = AuthModeJWKS
		a.parser = jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	default:
		return nil, errors.New("auth: unsupported mode " + cfg.Mode)
	}
	return a, nil
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// bearerToken returns the compact JWT carried by an Authorization header.
func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}

// UserIDFromBearer verifies a raw token and returns its owner id. The id is
// taken from "sub", falling back to the "userId" claim of local tokens.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}

	parsedToken, err := a.parser.Parse(token, a.keyForToken)
	if err != nil {
		return "", err
	}

	claims, ok := parsedToken.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now, false) {
		return "", errors.New("token not valid yet")
	}
	if !claims.VerifyIssuedAt(now, false) {
		return "", errors.New("token used before issued")
	}
	if a.cfg.Audience != "" && !claims.VerifyAudience(a.cfg.Audience, true) {
		return "", errors.New("invalid audience")
	}
	if a.cfg.Issuer != "" && !claims.VerifyIssuer(a.cfg.Issuer, true) {
		return "", errors.New("invalid issuer")
	}

	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}
	if uid, ok := claims["userId"].(string); ok && uid != "" {
		return uid, nil
	}
	return "", errors.New("missing sub")
}

func (a *Auth) keyForToken(token *jwt.Token) (any, error) {
	if a.cfg.Mode == AuthModeHS256 {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.cfg.Secret, nil
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.cfg.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}

	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
