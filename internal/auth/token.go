package auth

import (
	"strconv"
	"strings"
	"time"

	"postboard/internal/config"
	"postboard/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// InsecureDefaultSecret signs tokens when no secret is configured.
	InsecureDefaultSecret = config.InsecureDefaultSecret

	// DefaultTokenTTL is the validity window of issued tokens.
	DefaultTokenTTL = 7 * 24 * time.Hour

	// Issuer is the iss claim of every token.
	Issuer = "postboard-api"
)

// TokenService issues and verifies bearer tokens.
type TokenService interface {
	Issue(claims models.TokenClaims) (string, error)
	// Verify returns the claims of a valid token. Any failure yields nil, false.
	Verify(token string) (*models.TokenClaims, bool)
}

type jwtClaims struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTService is an HS256 TokenService.
type JWTService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// JWTOption configures a JWTService.
type JWTOption func(*JWTService)

// WithTokenClock overrides the clock used to stamp and check tokens.
func WithTokenClock(now func() time.Time) JWTOption {
	return func(s *JWTService) { s.now = now }
}

// NewJWTService returns a service signing with secret. An empty secret falls back to
// InsecureDefaultSecret and a non-positive ttl to DefaultTokenTTL.
func NewJWTService(secret string, ttl time.Duration, opts ...JWTOption) *JWTService {
	if secret == "" {
		secret = InsecureDefaultSecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	s := &JWTService{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs a token for claims valid from now until now+ttl.
func (s *JWTService) Issue(claims models.TokenClaims) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		ID:       claims.ID,
		Username: claims.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(claims.ID), 10),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.secret)
}

// Verify checks signature, algorithm, issuer and validity window.
func (s *JWTService) Verify(token string) (*models.TokenClaims, bool) {
	if token == "" {
		return nil, false
	}

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	if claims.ID == 0 || claims.Subject != strconv.FormatUint(uint64(claims.ID), 10) {
		return nil, false
	}
	return &models.TokenClaims{ID: claims.ID, Username: claims.Username}, true
}

// ExtractBearer returns the token from an Authorization header of the exact form "Bearer <token>".
func ExtractBearer(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
