package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func TestPasetoV4_IssueAndVerify(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()
	cfg := DefaultConfig()
	cfg.SecretKeyHex = secret.ExportHex()

	m, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := m.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := m.Verify(tok, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.Issuer != cfg.Issuer {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	if _, err := m.Verify(tok, now.Add(cfg.AccessTokenTTL+time.Hour)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
	if _, err := m.Verify("garbage", now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected garbage token to fail, got %v", err)
	}
	if _, err := m.Verify("", now); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected missing credential, got %v", err)
	}
}

func TestPasetoV4_VerifyOnlyManager(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()

	issuerCfg := DefaultConfig()
	issuerCfg.SecretKeyHex = secret.ExportHex()
	issuer, err := NewPasetoV4PublicManager(issuerCfg)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}

	verifyCfg := DefaultConfig()
	verifyCfg.PublicKeyHex = issuer.PublicKeyHex()
	verifier, err := NewPasetoV4PublicManager(verifyCfg)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	now := time.Now().UTC()
	tok, _, err := issuer.Issue("user-2", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := verifier.Verify(tok, now)
	if err != nil || claims.UserID != "user-2" {
		t.Fatalf("verify-only manager failed: claims=%+v err=%v", claims, err)
	}

	if _, _, err := verifier.Issue("user-2", now); !errors.Is(err, ErrCannotIssue) {
		t.Fatalf("expected ErrCannotIssue, got %v", err)
	}
}

func TestPasetoV4_WrongIssuerRejected(t *testing.T) {
	t.Parallel()

	secret := paseto.NewV4AsymmetricSecretKey()

	a := DefaultConfig()
	a.SecretKeyHex = secret.ExportHex()
	a.Issuer = "someone-else"
	other, err := NewPasetoV4PublicManager(a)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	b := DefaultConfig()
	b.SecretKeyHex = secret.ExportHex()
	m, err := NewPasetoV4PublicManager(b)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Now().UTC()
	tok, _, _ := other.Issue("user-3", now)
	if _, err := m.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch to fail, got %v", err)
	}
}

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		build   func(r *http.Request)
		want    string
		wantErr error
	}{
		{name: "none", build: func(*http.Request) {}, wantErr: ErrMissingCredential},
		{name: "bearer", build: func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, want: "abc"},
		{name: "bad scheme", build: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") }, wantErr: ErrInvalidToken},
		{name: "cookie", build: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: AccessTokenName, Value: "ck"}) }, want: "ck"},
		{name: "query", build: func(r *http.Request) {
			q := r.URL.Query()
			q.Set(AccessTokenName, "qq")
			r.URL.RawQuery = q.Encode()
		}, want: "qq"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodGet, "/chat/bob", nil)
			tc.build(r)
			got, err := TokenFromRequest(r)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("got=%q err=%v want=%q", got, err, tc.want)
			}
		})
	}
}
