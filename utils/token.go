package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// JwtCustomClaim carries the identity the ledgers authorize against.
type JwtCustomClaim struct {
	Actor string `json:"actor"`
	Role  string `json:"role"`
	// Site is empty for admins.
	Site string `json:"site,omitempty"`
	jwt.StandardClaims
}

var jwtSecret = []byte(getJwtSecret())

func getJwtSecret() string {
	secret := os.Getenv("API_SECRET")
	if secret == "" {
		return "tollops-dev-secret"
	}
	return secret
}

func tokenLifespan() (time.Duration, error) {
	v := os.Getenv("TOKEN_HOUR_LIFESPAN")
	if v == "" {
		return 12 * time.Hour, nil
	}
	hours, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("TOKEN_HOUR_LIFESPAN: %w", err)
	}
	return time.Duration(hours) * time.Hour, nil
}

func JwtGenerate(actor, role, site string) (string, error) {
	lifespan, err := tokenLifespan()
	if err != nil {
		return "", err
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &JwtCustomClaim{
		Actor: actor,
		Role:  role,
		Site:  site,
		StandardClaims: jwt.StandardClaims{
			Subject:   actor,
			ExpiresAt: time.Now().Add(lifespan).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})

	token, err := t.SignedString(jwtSecret)
	if err != nil {
		return "", err
	}

	return token, nil
}

func JwtValidate(token string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return jwtSecret, nil
	})
}

// ClaimsFromToken validates token and returns its claims.
func ClaimsFromToken(token string) (*JwtCustomClaim, error) {
	parsed, err := JwtValidate(token)
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Actor == "" {
		return nil, errors.New("token has no actor")
	}
	return claims, nil
}
