package auth

import (
	"testing"
	"time"

	"github.com/Abdull600/study-circle-voice/core"
	"github.com/golang-jwt/jwt/v5"
)

func TestCreateAndParseJWT(t *testing.T) {
	InitAuth("test-secret")

	token, err := CreateJWT(core.Identity{ID: "U1", DisplayName: "Ada"}, time.Hour)
	if err != nil {
		t.Fatalf("CreateJWT() failed: %v", err)
	}

	claims, err := ParseJWT(token)
	if err != nil {
		t.Fatalf("ParseJWT() failed: %v", err)
	}

	identity := claims.Identity()
	if identity.ID != "U1" || identity.DisplayName != "Ada" {
		t.Errorf("Identity mismatch: %+v", identity)
	}
}

func TestCreateJWT_Errors(t *testing.T) {
	InitAuth("")
	if _, err := CreateJWT(core.Identity{ID: "U1"}, time.Hour); err == nil {
		t.Error("CreateJWT() should fail without a secret")
	}

	InitAuth("test-secret")
	if _, err := CreateJWT(core.Identity{}, time.Hour); err == nil {
		t.Error("CreateJWT() should fail without an identity id")
	}
}

func TestParseJWT_Rejects(t *testing.T) {
	InitAuth("test-secret")

	// CreateJWT never issues expired tokens, so build one by hand.
	claims := AppClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "U1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))

	otherSecret, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "U1"},
	}).SignedString([]byte("other-secret"))

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, AppClaims{Name: "Ada"}).SignedString([]byte("test-secret"))

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "U1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	testCases := []struct {
		name  string
		token string
	}{
		{"Expired", expired},
		{"Wrong secret", otherSecret},
		{"No subject", noSubject},
		{"Unsigned", unsigned},
		{"Garbage", "not-a-token"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseJWT(tc.token); err == nil {
				t.Error("ParseJWT() should fail")
			}
		})
	}
}
