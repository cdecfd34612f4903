package auth

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	b, _ := GenerateToken()
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a == b {
		t.Fatal("tokens should differ")
	}
}

func TestHashAndCheckToken(t *testing.T) {
	hash, err := HashToken("s3cret-token")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if hash == "s3cret-token" {
		t.Fatal("hash must not equal the token")
	}
	if err := CheckToken(hash, "s3cret-token"); err != nil {
		t.Fatalf("CheckToken: %v", err)
	}
	if err := CheckToken(hash, "wrong"); err != bcrypt.ErrMismatchedHashAndPassword {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestVerifier(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("tok"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	tests := []struct {
		name  string
		hash  string
		token string
		want  bool
	}{
		{name: "disabled accepts anything", hash: "", token: "", want: true},
		{name: "matching token", hash: string(hash), token: "tok", want: true},
		{name: "padded token", hash: string(hash), token: " tok ", want: true},
		{name: "wrong token", hash: string(hash), token: "nope", want: false},
		{name: "missing token", hash: string(hash), token: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.hash)
			if got := v.Verify(tt.token); got != tt.want {
				t.Fatalf("Verify(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}

	var nilVerifier *Verifier
	if nilVerifier.Enabled() {
		t.Fatal("nil verifier must be disabled")
	}
}
