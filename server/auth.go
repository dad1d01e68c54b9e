package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tealflight/tealflight/authz"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var invalidPasswordDigest = sha256.Sum256([]byte("__tealflight_invalid_password_sentinel__"))

// ValidateUserPassword compares a password against the SHA-256 credential
// store without leaking user existence via compare timing.
func ValidateUserPassword(users map[string][]byte, username, password string) bool {
	expected, userFound := users[username]
	if !userFound {
		expected = invalidPasswordDigest[:]
	}
	digest := sha256.Sum256([]byte(password))
	matches := subtle.ConstantTimeCompare(digest[:], expected) == 1
	return userFound && password != "" && matches
}

// TokenIssuer signs and validates the server's HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue signs a token for the user. Extra claims (groups, token_type) are
// merged over the registered ones.
func (t *TokenIssuer) Issue(user string, extraClaims map[string]any) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": user,
		"iat": now.Unix(),
		"exp": now.Add(t.ttl).Unix(),
	}
	for k, v := range extraClaims {
		claims[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate parses a bearer token and returns the identity it asserts. The
// raw token is kept in the claims so redirect authorization can forward it.
func (t *TokenIssuer) Validate(raw string) (authz.Identity, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return authz.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return authz.Identity{}, fmt.Errorf("invalid token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return authz.Identity{}, fmt.Errorf("token has no subject")
	}
	identity := authz.Identity{
		User:   sub,
		Claims: map[string]string{authz.ClaimBearerToken: raw},
	}
	if groups, ok := claims["groups"].([]any); ok {
		for _, g := range groups {
			if s, ok := g.(string); ok {
				identity.Groups = append(identity.Groups, s)
			}
		}
	}
	if tokenType, ok := claims[authz.ClaimTokenType].(string); ok {
		identity.Claims[authz.ClaimTokenType] = tokenType
	}
	return identity, nil
}

// Authenticator turns per-call gRPC metadata into an identity. Both Basic
// credentials and server-issued bearer tokens are accepted.
type Authenticator struct {
	users       map[string][]byte
	issuer      *TokenIssuer
	rateLimiter *RateLimiter
}

func NewAuthenticator(users map[string][]byte, issuer *TokenIssuer, rl *RateLimiter) *Authenticator {
	return &Authenticator{users: users, issuer: issuer, rateLimiter: rl}
}

func remoteAddrFromContext(ctx context.Context) net.Addr {
	if p, ok := peer.FromContext(ctx); ok && p != nil {
		return p.Addr
	}
	return nil
}

// IdentityFromContext authenticates the call or fails with UNAUTHENTICATED;
// a source address currently banned by the rate limiter gets
// RESOURCE_EXHAUSTED instead.
func (a *Authenticator) IdentityFromContext(ctx context.Context) (authz.Identity, error) {
	remoteAddr := remoteAddrFromContext(ctx)
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return authz.Identity{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	authHeaders := md.Get("authorization")
	if len(authHeaders) == 0 {
		return authz.Identity{}, status.Error(codes.Unauthenticated, "missing authorization header")
	}

	if a.rateLimiter != nil {
		if reason := a.rateLimiter.CheckAttempt(remoteAddr); reason != "" {
			return authz.Identity{}, status.Error(codes.ResourceExhausted, reason)
		}
	}

	scheme, value, _ := strings.Cut(strings.TrimSpace(authHeaders[0]), " ")
	switch {
	case strings.EqualFold(scheme, "Bearer"):
		identity, err := a.issuer.Validate(strings.TrimSpace(value))
		if err != nil {
			a.recordFailure(remoteAddr)
			return authz.Identity{}, status.Error(codes.Unauthenticated, "invalid bearer token")
		}
		a.recordSuccess(remoteAddr)
		return identity, nil
	case strings.EqualFold(scheme, "Basic"):
		username, password, err := parseBasicCredentials(value)
		if err != nil {
			a.recordFailure(remoteAddr)
			return authz.Identity{}, status.Error(codes.Unauthenticated, err.Error())
		}
		if !ValidateUserPassword(a.users, username, password) {
			a.recordFailure(remoteAddr)
			return authz.Identity{}, status.Error(codes.Unauthenticated, "invalid credentials")
		}
		a.recordSuccess(remoteAddr)
		return authz.Identity{User: username, Claims: map[string]string{}}, nil
	default:
		return authz.Identity{}, status.Error(codes.Unauthenticated, "expected Basic or Bearer authorization")
	}
}

func (a *Authenticator) recordFailure(addr net.Addr) {
	authFailuresTotal.Inc()
	if a.rateLimiter != nil {
		a.rateLimiter.RecordFailedAuth(addr)
	}
}

func (a *Authenticator) recordSuccess(addr net.Addr) {
	if a.rateLimiter != nil {
		a.rateLimiter.RecordSuccessfulAuth(addr)
	}
}

func parseBasicCredentials(encoded string) (username, password string, err error) {
	decoded, decodeErr := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if decodeErr != nil {
		decoded, decodeErr = base64.RawStdEncoding.DecodeString(strings.TrimSpace(encoded))
		if decodeErr != nil {
			return "", "", fmt.Errorf("invalid basic auth encoding")
		}
	}
	creds := string(decoded)
	sep := strings.IndexByte(creds, ':')
	if sep < 0 {
		return "", "", fmt.Errorf("invalid basic auth payload")
	}
	username = creds[:sep]
	password = creds[sep+1:]
	if username == "" {
		return "", "", fmt.Errorf("username is required")
	}
	return username, password, nil
}
