//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=mocks/mock_user_store.go -package=mocks
package auth

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/directchat/internal/store"
)

// UserStore persists accounts.
type UserStore interface {
	CreateUser(username, passwordHash string) (store.User, error)
	GetUser(username string) (store.User, error)
}

// Service registers accounts and exchanges credentials for tokens.
type Service struct {
	users  UserStore
	tokens *Tokens
	log    *slog.Logger
}

// NewService returns a Service backed by users and tokens.
func NewService(users UserStore, tokens *Tokens, log *slog.Logger) *Service {
	return &Service{users: users, tokens: tokens, log: log}
}

// Register validates and stores a new account. It returns
// store.ErrUserExists when the username is taken.
func (s *Service) Register(username, password string) error {
	if err := ValidateCredentials(Credentials{Username: username, Password: password}); err != nil {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(username, hash)
	if err != nil {
		return err
	}
	s.log.Info("User registered", "username", user.Username, "id", user.ID)
	return nil
}

// Login checks the credentials and returns a bearer token for username. Every
// lookup or comparison failure is reported as ErrInvalidCredentials.
func (s *Service) Login(username, password string) (string, error) {
	user, err := s.users.GetUser(username)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			s.log.Error("User lookup failed", "username", username, "error", err)
		}
		return "", ErrInvalidCredentials
	}

	match, err := ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", ErrInvalidCredentials
	}

	return s.tokens.Issue(user.Username)
}
