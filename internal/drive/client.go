// Package drive stores checklist documents in the Google Drive
// application-data folder, a per-app hidden space the user cannot see
// in the Drive UI.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"golang.org/x/oauth2"
	gdrive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	apperrors "github.com/alexjbarnes/checklist-sync/internal/errors"
	"github.com/alexjbarnes/checklist-sync/internal/syncer"
)

const (
	// DefaultEndpoint is the root of the Google APIs.
	DefaultEndpoint = "https://www.googleapis.com/"

	// appDataSpace is both the listing space and the parent folder id of
	// the application-data folder.
	appDataSpace = "appDataFolder"

	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	httpClientTimeout = 30 * time.Second

	// maxDocumentBytes caps downloads. Checklist documents are small.
	maxDocumentBytes = 16 << 20

	defaultPageSize = 100

	listFields = "nextPageToken, files(id,name,mimeType,modifiedTime)"

	timeFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Config configures a Client.
type Config struct {
	// Endpoint is the API root, DefaultEndpoint when empty.
	Endpoint string

	TokenSource oauth2.TokenSource

	// PageSize is the listing page size, 100 when zero.
	PageSize int64

	// HTTPClient supplies the base transport for metadata and download
	// calls. Authentication is layered on top of it.
	HTTPClient *http.Client
}

// Client is a syncer.RemoteStore backed by Google Drive.
type Client struct {
	svc      *gdrive.Service
	upload   *req.Client
	tokens   oauth2.TokenSource
	pageSize int64
	logger   *slog.Logger
}

var _ syncer.RemoteStore = (*Client)(nil)

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the bearer token
// from leaking to third-party domains.
func sameHostRedirectPolicy(r *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if r.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, r.URL.Host)
		}
	}

	return nil
}

// New creates a Drive client. Metadata calls go through the generated
// Drive service; content uploads are sent as one multipart request.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("token source is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var base http.RoundTripper

	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient.Transport
	}

	httpClient := &http.Client{
		Transport:     &oauth2.Transport{Source: cfg.TokenSource, Base: base},
		Timeout:       httpClientTimeout,
		CheckRedirect: sameHostRedirectPolicy,
	}

	svc, err := gdrive.NewService(ctx,
		option.WithHTTPClient(httpClient),
		option.WithEndpoint(endpoint+"drive/v3/"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}

	upload := req.C().
		SetBaseURL(strings.TrimSuffix(endpoint, "/")).
		SetTimeout(httpClientTimeout).
		SetUserAgent("checklist-sync").
		SetRedirectPolicy(req.SameHostRedirectPolicy(), req.MaxRedirectPolicy(maxRedirects))

	return &Client{
		svc:      svc,
		upload:   upload,
		tokens:   cfg.TokenSource,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

// List returns one page of non-trashed application-data files of the
// given type, oldest modification first.
func (c *Client) List(ctx context.Context, mimeType, pageToken string) (*syncer.ListPage, error) {
	call := c.svc.Files.List().
		Context(ctx).
		Spaces(appDataSpace).
		Q(fmt.Sprintf("mimeType='%s' and trashed=false", escapeQuery(mimeType))).
		OrderBy("modifiedTime").
		Fields(listFields).
		PageSize(c.pageSize)

	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	list, err := call.Do()
	if err != nil {
		return nil, c.failed(wrapError("listing files", err))
	}

	page := &syncer.ListPage{
		Files:         make([]syncer.RemoteFile, 0, len(list.Files)),
		NextPageToken: list.NextPageToken,
	}

	for _, f := range list.Files {
		mtime, err := time.Parse(time.RFC3339Nano, f.ModifiedTime)
		if err != nil {
			return nil, fmt.Errorf("parsing modified time of %s: %w", f.Id, err)
		}

		page.Files = append(page.Files, syncer.RemoteFile{
			ID:           f.Id,
			Name:         f.Name,
			MimeType:     f.MimeType,
			ModifiedTime: mtime,
		})
	}

	c.logger.Debug("listed remote page",
		slog.Int("files", len(page.Files)),
		slog.Bool("more", page.NextPageToken != ""),
	)

	return page, nil
}

// Get downloads a file's content.
func (c *Client) Get(ctx context.Context, id string) ([]byte, error) {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, c.failed(wrapError("downloading "+id, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, c.failed(&TransientError{Err: fmt.Errorf("reading %s: %w", id, err)})
	}

	if len(data) > maxDocumentBytes {
		return nil, fmt.Errorf("file %s exceeds %d bytes", id, maxDocumentBytes)
	}

	return data, nil
}

// Create makes an empty file in the application-data folder and returns
// its id.
func (c *Client) Create(ctx context.Context, name, mimeType string, mtime time.Time) (string, error) {
	f, err := c.svc.Files.Create(&gdrive.File{
		Name:         name,
		MimeType:     mimeType,
		Parents:      []string{appDataSpace},
		ModifiedTime: mtime.UTC().Format(timeFormat),
	}).Context(ctx).Fields("id").Do()
	if err != nil {
		return "", c.failed(wrapError("creating "+name, err))
	}

	return f.Id, nil
}

// UploadMultipart replaces a file's content and metadata in a single
// multipart request.
func (c *Client) UploadMultipart(ctx context.Context, id string, body *syncer.MultipartBody) error {
	tok, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("uploading %s: %w", id, err)
	}

	resp, err := c.upload.R().
		SetContext(ctx).
		SetBearerAuthToken(tok.AccessToken).
		SetPathParam("id", id).
		SetQueryParam("uploadType", "multipart").
		SetQueryParam("fields", "id,modifiedTime").
		SetBodyBytes(body.Body).
		SetContentType(body.ContentType).
		Patch("/upload/drive/v3/files/{id}")
	if err != nil {
		return c.failed(&TransientError{Err: fmt.Errorf("uploading %s: %w: %w", id, apperrors.ErrAPIRequest, err)})
	}

	if resp.IsErrorState() {
		return c.failed(statusError("uploading "+id, resp.StatusCode, resp.Bytes()))
	}

	return nil
}

// failed logs a request failure and returns err unchanged.
func (c *Client) failed(err error) error {
	c.logger.Warn("drive request failed",
		slog.String("error", err.Error()),
		slog.Bool("transient", IsTransient(err)),
	)

	return err
}

// escapeQuery escapes a value for use inside a single-quoted Drive
// query string.
func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
