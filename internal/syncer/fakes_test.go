package syncer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/alexjbarnes/checklist-sync/internal/models"
)

// memRemote is an in-memory RemoteStore. It pages one entry at a time so
// every listing exercises pagination.
type memRemote struct {
	mu       sync.Mutex
	files    []*memRemoteFile
	nextID   int
	pageSize int

	listErr   error
	listErrAt int // 1-based page on which listErr fires; 0 means every page
	getErr    error
	uploadErr error

	listCalls   int
	getCalls    int
	createCalls int
	uploadCalls int
}

type memRemoteFile struct {
	RemoteFile
	content []byte
}

func newMemRemote() *memRemote {
	return &memRemote{pageSize: 1}
}

// add stores an entry directly, as another client would have.
func (m *memRemote) add(name string, content []byte, mtime time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := "r" + strconv.Itoa(m.nextID)
	m.files = append(m.files, &memRemoteFile{
		RemoteFile: RemoteFile{ID: id, Name: name, MimeType: MimeType, ModifiedTime: mtime},
		content:    content,
	})

	return id
}

func (m *memRemote) file(id string) *memRemoteFile {
	for _, f := range m.files {
		if f.ID == id {
			return f
		}
	}

	return nil
}

func (m *memRemote) byName(name string) *memRemoteFile {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *memRemoteFile

	for _, f := range m.sorted() {
		if f.Name == name {
			found = f
		}
	}

	return found
}

func (m *memRemote) sorted() []*memRemoteFile {
	out := append([]*memRemoteFile(nil), m.files...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModifiedTime.Before(out[j].ModifiedTime)
	})

	return out
}

func (m *memRemote) List(_ context.Context, mimeType, pageToken string) (*ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listCalls++

	start := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, fmt.Errorf("bad page token %q", pageToken)
		}
		start = n
	}

	page := start/m.pageSize + 1
	if m.listErr != nil && (m.listErrAt == 0 || m.listErrAt == page) {
		return nil, m.listErr
	}

	var matching []*memRemoteFile
	for _, f := range m.sorted() {
		if f.MimeType == mimeType {
			matching = append(matching, f)
		}
	}

	end := min(start+m.pageSize, len(matching))

	lp := &ListPage{}
	for _, f := range matching[start:end] {
		lp.Files = append(lp.Files, f.RemoteFile)
	}

	if end < len(matching) {
		lp.NextPageToken = strconv.Itoa(end)
	}

	return lp, nil
}

func (m *memRemote) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getCalls++

	if m.getErr != nil {
		return nil, m.getErr
	}

	f := m.file(id)
	if f == nil {
		return nil, fmt.Errorf("no remote file %s", id)
	}

	return append([]byte(nil), f.content...), nil
}

func (m *memRemote) Create(_ context.Context, name, mimeType string, mtime time.Time) (string, error) {
	m.mu.Lock()
	m.createCalls++
	m.mu.Unlock()

	id := m.add(name, nil, mtime)

	m.mu.Lock()
	m.file(id).MimeType = mimeType
	m.mu.Unlock()

	return id, nil
}

// UploadMultipart decodes the body the way the remote service does: the
// first part is JSON metadata, the second the base64 content.
func (m *memRemote) UploadMultipart(_ context.Context, id string, body *MultipartBody) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.uploadCalls++

	if m.uploadErr != nil {
		return m.uploadErr
	}

	f := m.file(id)
	if f == nil {
		return fmt.Errorf("no remote file %s", id)
	}

	_, params, err := mime.ParseMediaType(body.ContentType)
	if err != nil {
		return err
	}

	r := multipart.NewReader(bytes.NewReader(body.Body), params["boundary"])

	metaPart, err := r.NextPart()
	if err != nil {
		return err
	}

	var meta struct {
		ModifiedTime time.Time `json:"modifiedTime"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		return err
	}

	contentPart, err := r.NextPart()
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(contentPart)
	if err != nil {
		return err
	}

	content, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return err
	}

	f.content = content
	f.ModifiedTime = meta.ModifiedTime

	return nil
}

func (m *memRemote) counts() (list, get, create, upload int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.listCalls, m.getCalls, m.createCalls, m.uploadCalls
}

// memLocal is an in-memory LocalStore.
type memLocal struct {
	mu      sync.Mutex
	docs    map[string]models.LocalRecord
	listErr error
	putErr  error
	puts    int

	// getErrs fails Get for individual names.
	getErrs map[string]error
}

func newMemLocal() *memLocal {
	return &memLocal{docs: make(map[string]models.LocalRecord)}
}

func (m *memLocal) add(name string, content []byte, mtime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[name] = models.LocalRecord{Name: name, ModifiedTime: mtime, Contents: content}
}

func (m *memLocal) doc(name string) (models.LocalRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.docs[name]

	return rec, ok
}

func (m *memLocal) ListNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	names := make([]string, 0, len(m.docs))
	for n := range m.docs {
		names = append(names, n)
	}

	sort.Strings(names)

	return names, nil
}

func (m *memLocal) Get(_ context.Context, name string) (*models.LocalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.getErrs[name]; err != nil {
		return nil, err
	}

	rec, ok := m.docs[name]
	if !ok {
		return nil, nil
	}

	rec.Contents = append([]byte(nil), rec.Contents...)

	return &rec, nil
}

func (m *memLocal) Put(_ context.Context, rec models.LocalRecord, mtime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.putErr != nil {
		return m.putErr
	}

	m.puts++
	rec.ModifiedTime = mtime
	rec.Contents = append([]byte(nil), rec.Contents...)
	m.docs[rec.Name] = rec

	return nil
}

var errBoom = errors.New("boom")
