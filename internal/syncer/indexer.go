package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexjbarnes/checklist-sync/internal/models"
)

// Indexer builds a name-to-record map from a paginated remote listing.
type Indexer struct {
	remote RemoteStore
	logger *slog.Logger
}

// NewIndexer creates an indexer over the given remote store.
func NewIndexer(remote RemoteStore, logger *slog.Logger) *Indexer {
	return &Indexer{remote: remote, logger: logger}
}

// ListByType returns the latest remote record for every logical document
// name of the given type. It either returns the complete map or the first
// transport error; a partial listing is never returned.
//
// The remote may hold several entries with the same name (duplicate
// uploads, half-finished creates). Pages arrive ordered by ascending
// modification time, so keeping the last entry seen per name keeps the
// most recently modified one.
func (ix *Indexer) ListByType(ctx context.Context, mimeType string) (map[string]models.RemoteRecord, error) {
	index := make(map[string]models.RemoteRecord)
	pageToken := ""
	pages := 0

	for {
		page, err := ix.remote.List(ctx, mimeType, pageToken)
		if err != nil {
			return nil, fmt.Errorf("listing remote page %d: %w", pages+1, err)
		}

		pages++

		for _, f := range page.Files {
			name, ok := strings.CutSuffix(f.Name, RemoteSuffix)
			if !ok || name == "" {
				ix.logger.Debug("skipping remote entry without document suffix",
					slog.String("id", f.ID),
					slog.String("name", f.Name),
				)

				continue
			}

			if prev, dup := index[name]; dup {
				ix.logger.Debug("duplicate remote entry, keeping newer",
					slog.String("name", name),
					slog.String("dropped_id", prev.ID),
					slog.String("kept_id", f.ID),
				)
			}

			index[name] = models.RemoteRecord{
				ID:           f.ID,
				Name:         name,
				MimeType:     f.MimeType,
				ModifiedTime: f.ModifiedTime,
			}
		}

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	ix.logger.Debug("remote listing complete",
		slog.Int("pages", pages),
		slog.Int("documents", len(index)),
	)

	return index, nil
}
