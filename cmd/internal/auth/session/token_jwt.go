package session

import (
	"crypto/ed25519"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// AccessClaims is the minimal identity envelope carried by an access token.
type AccessClaims struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// AccessTokenManager issues and verifies short-lived access tokens.
type AccessTokenManager interface {
	Issue(userID string, now time.Time) (token string, claims AccessClaims, err error)
	Verify(token string, now time.Time) (AccessClaims, error)
	PublicKeyHex() string
}

type jwtEd25519Manager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewJWTEd25519Manager builds an AccessTokenManager signing JWTs with EdDSA.
//
// The asymmetric keypair means verification never requires distributing a
// shared secret. Every token carries a unique "jti" so the denylist can
// record an explicit logout for exactly the token's remaining lifetime.
func NewJWTEd25519Manager(cfg Config) (AccessTokenManager, error) {
	seed, err := hex.DecodeString(cfg.AccessKeySeedHex)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, ErrConfig
	}

	private := ed25519.NewKeyFromSeed(seed)
	public, ok := private.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrConfig
	}

	return &jwtEd25519Manager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
		private:   private,
		public:    public,
	}, nil
}

func (m *jwtEd25519Manager) PublicKeyHex() string {
	return hex.EncodeToString(m.public)
}

func (m *jwtEd25519Manager) Issue(userID string, now time.Time) (string, AccessClaims, error) {
	exp := now.Add(m.ttl)
	jti := ulid.Make().String()

	claims := jwt.RegisteredClaims{
		Issuer:    m.issuer,
		Subject:   userID,
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now), // Access tokens valid immediately.
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.private)
	if err != nil {
		return "", AccessClaims{}, err
	}

	return signed, AccessClaims{
		UserID:    userID,
		TokenID:   jti,
		ExpiresAt: exp,
		IssuedAt:  now,
		Issuer:    m.issuer,
	}, nil
}

func (m *jwtEd25519Manager) Verify(token string, now time.Time) (AccessClaims, error) {
	var claims jwt.RegisteredClaims

	// The algorithm is pinned to EdDSA; anything else (including "none") is
	// rejected before the signature is even examined.
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return m.public, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithLeeway(m.clockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidToken
	}

	if claims.Subject == "" || claims.ID == "" {
		return AccessClaims{}, ErrInvalidToken
	}

	out := AccessClaims{
		UserID:  claims.Subject,
		TokenID: claims.ID,
		Issuer:  claims.Issuer,
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}

	return out, nil
}
