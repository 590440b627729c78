package state

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/oauth2"

	"github.com/alexjbarnes/checklist-sync/internal/models"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	appBucket = []byte("app")

	// tokenKey is the fixed storage key for the cached Drive credential.
	tokenKey  = []byte("gdrive_token")
	statusKey = []byte("sync_status")
)

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it if it
// does not exist. The app bucket is created on open.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(appBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Token returns the cached OAuth token, or nil if none is stored.
func (s *State) Token() (*oauth2.Token, error) {
	var tok *oauth2.Token

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(tokenKey)
		if v == nil {
			return nil
		}

		tok = &oauth2.Token{}

		return json.Unmarshal(v, tok)
	})
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}

	return tok, nil
}

// SetToken persists the OAuth token.
func (s *State) SetToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshalling token: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(tokenKey, data)
	})
}

// DeleteToken removes the cached token entirely.
func (s *State) DeleteToken() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Delete(tokenKey)
	})
}

// Status returns the report of the last finished pass, or nil if no pass
// has completed yet.
func (s *State) Status() (*models.PassReport, error) {
	var r *models.PassReport

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(appBucket).Get(statusKey)
		if v == nil {
			return nil
		}

		r = &models.PassReport{}

		return json.Unmarshal(v, r)
	})

	return r, err
}

// SetStatus persists the report of the last finished pass.
func (s *State) SetStatus(r models.PassReport) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(appBucket).Put(statusKey, data)
	})
}

// DefaultPath returns ~/.checklist-sync/state.db.
func DefaultPath() (string, error) {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(dir, ".checklist-sync", "state.db"), nil
}
