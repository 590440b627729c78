// Package syncer keeps a local collection of checklist documents
// consistent with the remote application-data store. It lists both
// sides, decides per document whether to upload, download or leave it
// alone, runs the transfers, and tracks the outcome in a small state
// machine that the rest of the daemon observes.
package syncer

import (
	"context"
	"time"

	"github.com/alexjbarnes/checklist-sync/internal/models"
)

const (
	// RemoteSuffix is appended to the logical document name to form the
	// stored remote filename.
	RemoteSuffix = ".checklist"

	// MimeType identifies checklist documents inside the shared
	// application-data namespace.
	MimeType = "application/vnd.checklist-sync+json"
)

// PlaceholderModifiedTime is the modification time given to a remote
// entry when it is first created, before its content is uploaded. It is
// older than any real document, so an entry whose content upload failed
// is uploaded again on the next pass instead of looking in sync.
var PlaceholderModifiedTime = time.Unix(0, 0).UTC()

// MaxModifiedTime caps modification times. A bogus far-future timestamp
// is stored and compared as this value, so it cannot win every later
// comparison and a clamped copy still matches its source.
var MaxModifiedTime = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

// LocalStore is the local document collection.
type LocalStore interface {
	ListNames(ctx context.Context) ([]string, error)
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, name string) (*models.LocalRecord, error)
	Put(ctx context.Context, rec models.LocalRecord, mtime time.Time) error
}

// RemoteFile is a raw entry from a remote listing. Name still carries the
// RemoteSuffix.
type RemoteFile struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime time.Time
}

// ListPage is one page of a remote listing.
type ListPage struct {
	Files         []RemoteFile
	NextPageToken string
}

// RemoteStore is the remote application-data namespace. List returns
// entries ordered by ascending modification time.
type RemoteStore interface {
	List(ctx context.Context, mimeType, pageToken string) (*ListPage, error)
	Get(ctx context.Context, id string) ([]byte, error)
	Create(ctx context.Context, name, mimeType string, mtime time.Time) (string, error)
	UploadMultipart(ctx context.Context, id string, body *MultipartBody) error
}

// AuthProvider hands out the credential the remote store authenticates
// with. RequestToken may block on a user consent step.
type AuthProvider interface {
	CachedToken() string
	RequestToken(ctx context.Context) (string, error)
	ClearToken() error
}
