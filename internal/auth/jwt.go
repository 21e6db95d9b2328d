package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Chat tickets are short-lived JWTs binding a username to a connection. The
// user-profile service upstream owns real accounts; this package only marks
// the trust boundary between it and the chat transport.

const ticketTTL = 15 * time.Minute

type TicketClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

var signingKey []byte

// Init installs the shared HMAC secret. Must run before any ticket is issued
// or validated.
func Init(key string) {
	if key == "" {
		log.Printf("[AUTH] WARNING: signing key is empty!")
	}
	signingKey = []byte(key)
}

func IssueTicket(username string) (string, error) {
	expiresAt := time.Now().Add(ticketTTL)
	log.Printf("[AUTH] Issuing ticket for %s (Expires: %s)", username, expiresAt.Format(time.RFC3339))

	claims := &TicketClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chat-service",
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(signingKey)
	if err != nil {
		log.Printf("[AUTH] ERROR: Failed to sign ticket for %s: %v", username, err)
		return "", err
	}

	return signed, nil
}

func ValidateTicket(tokenString string) (*TicketClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TicketClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			errDetail := fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			log.Printf("[AUTH] VALIDATION FAILED: %v", errDetail)
			return nil, errDetail
		}
		return signingKey, nil
	})

	if err != nil {
		log.Printf("[AUTH] JWT Parse Error: %v", err)
		return nil, err
	}

	if claims, ok := token.Claims.(*TicketClaims); ok && token.Valid {
		return claims, nil
	}

	log.Printf("[AUTH] VALIDATION FAILED: Ticket claims invalid")
	return nil, errors.New("invalid ticket")
}
