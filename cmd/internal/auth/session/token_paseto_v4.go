package session

import (
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Claims is the minimal identity envelope carried by an access token.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Issuer    string
}

// Verifier verifies access tokens.
type Verifier interface {
	Verify(token string, now time.Time) (Claims, error)
}

// TokenManager verifies and, when a secret key is configured, issues access tokens.
type TokenManager interface {
	Verifier
	Issue(userID string, now time.Time) (token string, exp time.Time, err error)
	PublicKeyHex() string
}

type pasetoV4PublicManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret    paseto.V4AsymmetricSecretKey
	hasSecret bool
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoV4PublicManager builds a TokenManager based on PASETO v4.public.
//
// Issuer and expiration rules are enforced on verify. Clock skew is applied via ValidAt.
func NewPasetoV4PublicManager(cfg Config) (TokenManager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &pasetoV4PublicManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.AccessTokenTTL,
		clockSkew: cfg.ClockSkew,
	}

	if hex := strings.TrimSpace(cfg.SecretKeyHex); hex != "" {
		secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(hex)
		if err != nil {
			return nil, ErrConfig
		}
		m.secret = secret
		m.hasSecret = true
		m.public = secret.Public()
		return m, nil
	}

	public, err := paseto.NewV4AsymmetricPublicKeyFromHex(strings.TrimSpace(cfg.PublicKeyHex))
	if err != nil {
		return nil, ErrConfig
	}
	m.public = public
	return m, nil
}

func (m *pasetoV4PublicManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

func (m *pasetoV4PublicManager) Issue(userID string, now time.Time) (string, time.Time, error) {
	if !m.hasSecret {
		return "", time.Time{}, ErrCannotIssue
	}
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, ErrInvalidToken
	}

	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("uid", userID)

	return tok.V4Sign(m.secret, nil), exp, nil
}

func (m *pasetoV4PublicManager) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrMissingCredential
	}

	// Validate slightly in the future to tolerate "nbf" skew.
	validNow := now.Add(m.clockSkew)

	// Fresh parser per call; rules would otherwise accumulate.
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	uid, err := parsed.GetString("uid")
	if err != nil || strings.TrimSpace(uid) == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:    uid,
		ExpiresAt: exp,
		IssuedAt:  iat,
		Issuer:    iss,
	}, nil
}

// GenerateKeyPairHex returns a fresh v4.public key pair as hex strings.
func GenerateKeyPairHex() (secretHex, publicHex string) {
	secret := paseto.NewV4AsymmetricSecretKey()
	return secret.ExportHex(), secret.Public().ExportHex()
}
