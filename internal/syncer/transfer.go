package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/alexjbarnes/checklist-sync/internal/checklist"
	"github.com/alexjbarnes/checklist-sync/internal/models"
)

const metadataContentType = "application/json; charset=UTF-8"

// remoteTimeFormat is RFC 3339 with exactly millisecond precision, the
// resolution the remote store keeps.
const remoteTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Transfer moves single documents between the local and remote stores.
// Upload and download are the only operations in a pass that mutate
// either side.
type Transfer struct {
	local  LocalStore
	remote RemoteStore
	logger *slog.Logger
}

// NewTransfer creates a transfer engine over the two stores.
func NewTransfer(local LocalStore, remote RemoteStore, logger *slog.Logger) *Transfer {
	return &Transfer{local: local, remote: remote, logger: logger}
}

// Execute performs the action chosen for one document.
func (t *Transfer) Execute(ctx context.Context, d models.SyncDecision) error {
	switch d.Action {
	case models.ActionUpload:
		if d.Local == nil {
			return fmt.Errorf("upload %q: no local record", d.Name)
		}

		return t.Upload(ctx, *d.Local, d.Remote)

	case models.ActionDownload:
		if d.Remote == nil {
			return fmt.Errorf("download %q: no remote record", d.Name)
		}

		return t.Download(ctx, *d.Remote, d.Local)
	}

	return nil
}

type uploadMetadata struct {
	ModifiedTime string `json:"modifiedTime"`
}

// Upload sends a local document to the remote store. When the document
// has no remote entry yet, a placeholder entry is created first with an
// epoch modification time, so that if the content upload then fails the
// entry is older than the local copy and the next pass retries it.
func (t *Transfer) Upload(ctx context.Context, rec models.LocalRecord, remote *models.RemoteRecord) error {
	var id string

	if remote != nil {
		id = remote.ID
	}

	if id == "" {
		created, err := t.remote.Create(ctx, rec.Name+RemoteSuffix, MimeType, PlaceholderModifiedTime)
		if err != nil {
			return fmt.Errorf("creating remote entry for %q: %w", rec.Name, err)
		}

		t.logger.Debug("created placeholder remote entry",
			slog.String("name", rec.Name),
			slog.String("id", created),
		)

		id = created
	}

	meta, err := json.Marshal(uploadMetadata{
		ModifiedTime: rec.ModifiedTime.UTC().Format(remoteTimeFormat),
	})
	if err != nil {
		return fmt.Errorf("encoding upload metadata for %q: %w", rec.Name, err)
	}

	body, err := EncodeMultipart([]Part{
		{Content: meta, ContentType: metadataContentType},
		{Content: rec.Contents, ContentType: MimeType, Base64: true},
	})
	if err != nil {
		return fmt.Errorf("encoding upload for %q: %w", rec.Name, err)
	}

	if err := t.remote.UploadMultipart(ctx, id, body); err != nil {
		return fmt.Errorf("uploading %q: %w", rec.Name, err)
	}

	t.logger.Info("uploaded",
		slog.String("name", rec.Name),
		slog.String("id", id),
		slog.String("size", humanize.Bytes(uint64(len(rec.Contents)))),
		slog.Time("mtime", rec.ModifiedTime),
	)

	return nil
}

// Download fetches a remote document and stores its exact bytes locally
// with the remote modification time. prev is the local record being
// replaced, if any.
func (t *Transfer) Download(ctx context.Context, remote models.RemoteRecord, prev *models.LocalRecord) error {
	data, err := t.remote.Get(ctx, remote.ID)
	if err != nil {
		return fmt.Errorf("downloading %q: %w", remote.Name, err)
	}

	if len(data) == 0 && isPlaceholder(remote.ModifiedTime) {
		t.logger.Warn("skipping remote entry whose upload never completed",
			slog.String("name", remote.Name),
			slog.String("id", remote.ID),
		)

		return nil
	}

	doc, err := checklist.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("decoding %q: %w", remote.Name, err)
	}

	if doc.Name != remote.Name {
		t.logger.Warn("document name does not match remote filename",
			slog.String("name", remote.Name),
			slog.String("document_name", doc.Name),
			slog.String("id", remote.ID),
		)
	}

	if prev != nil {
		t.logDiff(remote.Name, prev.Contents, data)
	}

	rec := models.LocalRecord{Name: remote.Name, Contents: data}
	if err := t.local.Put(ctx, rec, remote.ModifiedTime); err != nil {
		return fmt.Errorf("storing %q: %w", remote.Name, err)
	}

	t.logger.Info("downloaded",
		slog.String("name", remote.Name),
		slog.String("id", remote.ID),
		slog.String("size", humanize.Bytes(uint64(len(data)))),
		slog.Time("mtime", remote.ModifiedTime),
	)

	return nil
}

func (t *Transfer) logDiff(name string, before, after []byte) {
	if !t.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(before), string(after), false)

	var inserted, deleted int

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		case diffmatchpatch.DiffEqual:
		}
	}

	t.logger.Debug("replacing local document",
		slog.String("name", name),
		slog.Int("inserted", inserted),
		slog.Int("deleted", deleted),
	)
}

func isPlaceholder(t time.Time) bool {
	return t.UnixMilli() == PlaceholderModifiedTime.UnixMilli()
}
