package testutil

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/olucodehub/2aside-platform-sub000/libs/apikey"
	"github.com/olucodehub/2aside-platform-sub000/libs/auth"
)

var (
	DemoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func GenerateJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return generateJWT(userID, []string{"user"}, secret, ttl, now)
}

func GenerateAdminJWT(userID uuid.UUID, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	return generateJWT(userID, []string{"user", auth.RoleAdmin}, secret, ttl, now)
}

func generateJWT(userID uuid.UUID, roles []string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Roles:  roles,
		Scopes: []string{"read"},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "aside-auth",
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func GenerateAPIKey(env string) (string, string, string, error) {
	return apikey.Generate(env)
}
