// Package store persists relay accounts for the login and registration
// endpoints.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

const userKeyPrefix = "user:"

// User is an account as seen by the rest of the application.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// userRecord is the on-disk form of a User.
type userRecord struct {
	ID           string `cbor:"1,keyasint"`
	Username     string `cbor:"2,keyasint"`
	PasswordHash string `cbor:"3,keyasint"`
	CreatedAt    int64  `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
}

// BadgerStore keeps users in a BadgerDB keyed by "user:<username>".
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

// Open opens the store under dir. An empty dir keeps everything in memory,
// which is what tests and throwaway deployments use.
func Open(dir string, log *slog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	log.Info("User store opened", "dir", dir, "in_memory", dir == "")
	return &BadgerStore{db: db, log: log}, nil
}

// CreateUser stores a new account and returns it with a generated ID.
func (s *BadgerStore) CreateUser(username, passwordHash string) (User, error) {
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}

	data, err := encMode.Marshal(userRecord{
		ID:           user.ID,
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt.Unix(),
	})
	if err != nil {
		return User{}, fmt.Errorf("marshal user: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + username)
		if _, err := txn.Get(key); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, badger.ErrConflict) {
		// The only key read is this user's, so a conflicting commit created it.
		return User{}, ErrUserExists
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// GetUser returns the account registered under username.
func (s *BadgerStore) GetUser(username string) (User, error) {
	var record userRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKeyPrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user %q: %w", username, err)
	}

	return User{
		ID:           record.ID,
		Username:     record.Username,
		PasswordHash: record.PasswordHash,
		CreatedAt:    time.Unix(record.CreatedAt, 0).UTC(),
	}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	s.log.Info("Closing user store")
	return s.db.Close()
}
