package auth

import (
	"testing"
	"time"

	"github.com/dpetukhov/tokengate/internal/common"
)

func TestNewAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, issued, err := NewToken("user-123", "a@example.com", "admin", secret, time.Hour)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	if issued.ID == "" {
		t.Fatalf("expected a fresh jti")
	}

	claims, err := ParseToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseToken error: %v", err)
	}
	if claims.UserID != "user-123" || claims.Email != "a@example.com" || claims.Role != "admin" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.ID != issued.ID {
		t.Fatalf("jti mismatch: got %q want %q", claims.ID, issued.ID)
	}
}

func TestNewToken_UniqueJTI(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	_, c1, err := NewToken("u1", "", "", secret, time.Hour)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	_, c2, err := NewToken("u1", "", "", secret, time.Hour)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}
	if c1.ID == c2.ID {
		t.Fatalf("two tokens share the same jti: %q", c1.ID)
	}
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, _, err := NewToken("u1", "", "", secret, -1*time.Second)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	_, err = ParseToken(tok, secret)
	if err != common.ErrTokenExpired {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, _, err := NewToken("u2", "", "", []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("NewToken error: %v", err)
	}

	_, err = ParseToken(tok, []byte("wrong-secret"))
	if err != common.ErrInvalidToken {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestParseToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := ParseToken("not.a.jwt", []byte("k"))
	if err != common.ErrInvalidToken {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}
