package token

import (
	"crypto/ed25519"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type values carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrExpired is returned by Decode when the token's exp is in the past.
	ErrExpired = errors.New("token expired")
	// ErrInvalid is returned by Decode for a bad signature, malformed
	// structure, or any other defect that is not plain expiry.
	ErrInvalid = errors.New("token invalid")
	// ErrTypeMismatch is returned by ExpectType when the "type" claim does
	// not match the wanted kind.
	ErrTypeMismatch = errors.New("token type mismatch")
)

// SigningMethod selects the signature algorithm for issued tokens.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Config carries the codec's immutable settings. AccessTTL is the default
// lifetime used when IssueAccess is called with a non-positive ttl;
// RefreshTTL is always fixed by configuration.
type Config struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the wire payload of every issued token: sub carries the user id
// as a decimal string, type distinguishes access from refresh, and jti (set
// on refresh tokens only) carries the owning session id.
type Claims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim back into a numeric user id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalid
	}
	return id, nil
}

// SessionID parses the jti claim back into a numeric session id.
// Only meaningful for refresh tokens.
func (c *Claims) SessionID() (int64, error) {
	id, err := strconv.ParseInt(c.ID, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalid
	}
	return id, nil
}

// Codec signs and verifies access/refresh tokens.
//
// Codec instances are safe for concurrent use once constructed.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token: AccessTTL and RefreshTTL must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("token: invalid leeway")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < 32 {
			return nil, errors.New("token: hs256 requires a key of at least 32 bytes")
		}
	case MethodEd25519:
		if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
			return nil, err
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("token: unsupported signing method")
	}

	return &Codec{config: cfg}, nil
}

// AccessTTL reports the configured default access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.config.AccessTTL }

// RefreshTTL reports the configured refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.config.RefreshTTL }

// IssueAccess mints a short-lived access token for userID. A non-positive
// ttl falls back to the configured AccessTTL.
func (c *Codec) IssueAccess(userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.config.AccessTTL
	}
	return c.sign(Claims{
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    c.config.Issuer,
		},
	})
}

// IssueRefresh mints a refresh token for userID bound to sessionID via the
// jti claim. The lifetime is fixed by RefreshTTL.
func (c *Codec) IssueRefresh(userID, sessionID int64) (string, error) {
	return c.sign(Claims{
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        strconv.FormatInt(sessionID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(c.config.RefreshTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    c.config.Issuer,
		},
	})
}

func (c *Codec) sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(c.method(), claims)
	key, err := c.signKey()
	if err != nil {
		return "", err
	}
	return tok.SignedString(key)
}

// Decode verifies signature and expiry and returns the claims. Expiry is
// evaluated against wall-clock time at decode time. Failures collapse to
// ErrExpired or ErrInvalid only.
func (c *Codec) Decode(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method().Alg()}),
		jwt.WithExpirationRequired(),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	tok, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.verifyKey()
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalid
	}
	switch claims.TokenType {
	case TypeAccess, TypeRefresh:
	default:
		return nil, ErrInvalid
	}

	return claims, nil
}

// ExpectType rejects a decoded payload whose "type" claim is not wantedType.
// This is the guard that keeps an access token from being replayed as a
// refresh token and vice versa.
func (c *Codec) ExpectType(claims *Claims, wantedType string) error {
	if claims == nil || claims.TokenType != wantedType {
		return ErrTypeMismatch
	}
	return nil
}

func (c *Codec) method() jwt.SigningMethod {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return jwt.SigningMethodEdDSA
	default:
		return jwt.SigningMethodHS256
	}
}

func (c *Codec) signKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return parseEdPrivateKey(c.config.PrivateKey)
	default:
		return c.config.PrivateKey, nil
	}
}

func (c *Codec) verifyKey() (interface{}, error) {
	switch c.config.SigningMethod {
	case MethodEd25519:
		return parseEdPublicKey(c.config.PublicKey)
	default:
		return c.config.PrivateKey, nil
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
