package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"chmsapp/models"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials deliberately covers both unknown usernames and wrong
// passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

func authenticate(ctx context.Context, store UserStore, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	user, err := store.FindByUsername(ctx, username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// issueSessionToken signs the JWT the CRUD surface is guarded with.
func issueSessionToken(user *models.User, secret []byte, ttl time.Duration) (string, error) {
	// token_use distinguishes sessions from reset tokens signed with the
	// same secret; the middleware rejects anything else.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username":  user.Username,
		"roles":     []string(user.Roles),
		"token_use": "session",
		"exp":       time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(secret)
}
