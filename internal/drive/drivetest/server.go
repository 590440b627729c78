// Package drivetest provides an in-process fake of the parts of the
// Google Drive v3 API the sync engine uses: application-data listing,
// media download, metadata create and multipart upload.
package drivetest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// File is a stored Drive file.
type File struct {
	ID           string
	Name         string
	MimeType     string
	Parents      []string
	ModifiedTime time.Time
	Content      []byte
	Trashed      bool

	seq int
}

// Server is a fake Drive endpoint. Point drive.Config.Endpoint at URL.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]*File
	seq      int
	token    string
	failures []failure
	calls    map[string]int
}

type failure struct {
	status int
	reason string
}

// NewServer starts a fake Drive server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		files: make(map[string]*File),
		calls: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /drive/v3/files", s.handleList)
	mux.HandleFunc("GET /drive/v3/files/{id}", s.handleGet)
	mux.HandleFunc("POST /drive/v3/files", s.handleCreate)
	mux.HandleFunc("PATCH /upload/drive/v3/files/{id}", s.handleUpload)

	s.Server = httptest.NewServer(s.authorize(mux))

	return s
}

// RequireToken makes every request without "Bearer token" fail with 401.
// An empty token accepts any request.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
}

// FailNext makes the next n requests fail with status. reason, if set,
// becomes the Google error reason.
func (s *Server) FailNext(n, status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range n {
		s.failures = append(s.failures, failure{status: status, reason: reason})
	}
}

// Put stores a file in the application-data folder as another client
// would, returning its id.
func (s *Server) Put(name, mimeType string, content []byte, mtime time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.putLocked(name, mimeType, content, mtime)
}

func (s *Server) putLocked(name, mimeType string, content []byte, mtime time.Time) string {
	s.seq++
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.files[id] = &File{
		ID:           id,
		Name:         name,
		MimeType:     mimeType,
		Parents:      []string{"appDataFolder"},
		ModifiedTime: mtime.UTC().Truncate(time.Millisecond),
		Content:      append([]byte(nil), content...),
		seq:          s.seq,
	}

	return id
}

// Trash marks a file as trashed.
func (s *Server) Trash(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[id]; ok {
		f.Trashed = true
	}
}

// File returns a copy of the file with the given id.
func (s *Server) File(id string) (File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return File{}, false
	}

	return *f, true
}

// Files returns copies of all files named name, oldest first.
func (s *Server) Files(name string) []File {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []File

	for _, f := range s.sortedLocked() {
		if f.Name == name {
			out = append(out, *f)
		}
	}

	return out
}

// Calls returns how many requests reached the given operation: "list",
// "get", "create" or "upload".
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls[op]
}

func (s *Server) sortedLocked() []*File {
	out := make([]*File, 0, len(s.files))
	for _, f := range s.files {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ModifiedTime.Equal(out[j].ModifiedTime) {
			return out[i].ModifiedTime.Before(out[j].ModifiedTime)
		}

		return out[i].seq < out[j].seq
	})

	return out
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		token := s.token

		var fail *failure
		if len(s.failures) > 0 {
			fail = &s.failures[0]
			s.failures = s.failures[1:]
		}
		s.mu.Unlock()

		if fail != nil {
			writeError(w, fail.status, fail.reason, "injected failure")
			return
		}

		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "authError", "Invalid Credentials")
			return
		}

		next.ServeHTTP(w, r)
	})
}

type fileJSON struct {
	ID           string   `json:"id,omitempty"`
	Name         string   `json:"name,omitempty"`
	MimeType     string   `json:"mimeType,omitempty"`
	ModifiedTime string   `json:"modifiedTime,omitempty"`
	Parents      []string `json:"parents,omitempty"`
}

func toJSON(f *File) fileJSON {
	return fileJSON{
		ID:           f.ID,
		Name:         f.Name,
		MimeType:     f.MimeType,
		ModifiedTime: f.ModifiedTime.UTC().Format(timeFormat),
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("spaces") != "appDataFolder" {
		writeError(w, http.StatusBadRequest, "invalid", "only appDataFolder is supported")
		return
	}

	mimeType, ok := parseMimeQuery(q.Get("q"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid", "unsupported query")
		return
	}

	pageSize := 100
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid", "bad pageSize")
			return
		}

		pageSize = n
	}

	start := 0
	if v := q.Get("pageToken"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid", "bad pageToken")
			return
		}

		start = n
	}

	s.mu.Lock()
	s.calls["list"]++

	var matching []*File

	for _, f := range s.sortedLocked() {
		if f.MimeType == mimeType && !f.Trashed {
			matching = append(matching, f)
		}
	}

	start = min(start, len(matching))
	end := min(start+pageSize, len(matching))

	resp := struct {
		NextPageToken string     `json:"nextPageToken,omitempty"`
		Files         []fileJSON `json:"files"`
	}{Files: []fileJSON{}}

	for _, f := range matching[start:end] {
		resp.Files = append(resp.Files, toJSON(f))
	}

	if end < len(matching) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// parseMimeQuery accepts only the query shape the client sends:
// mimeType='<type>' and trashed=false.
func parseMimeQuery(q string) (string, bool) {
	rest, ok := strings.CutPrefix(q, "mimeType='")
	if !ok {
		return "", false
	}

	value, tail, ok := strings.Cut(rest, "'")
	if !ok || tail != " and trashed=false" {
		return "", false
	}

	return value, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.calls["get"]++
	f, ok := s.files[r.PathValue("id")]

	var (
		content []byte
		meta    fileJSON
	)

	if ok {
		content = append([]byte(nil), f.Content...)
		meta = toJSON(f)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "File not found: "+r.PathValue("id"))
		return
	}

	if r.URL.Query().Get("alt") != "media" {
		writeJSON(w, http.StatusOK, meta)
		return
	}

	w.Header().Set("Content-Type", meta.MimeType)
	w.Write(content)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in fileJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "parseError", err.Error())
		return
	}

	mtime := time.Now()

	if in.ModifiedTime != "" {
		t, err := time.Parse(time.RFC3339Nano, in.ModifiedTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid", "bad modifiedTime")
			return
		}

		mtime = t
	}

	s.mu.Lock()
	s.calls["create"]++
	id := s.putLocked(in.Name, in.MimeType, nil, mtime)
	s.files[id].Parents = in.Parents
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, fileJSON{ID: id})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		writeError(w, http.StatusBadRequest, "invalid", "only multipart uploads are supported")
		return
	}

	meta, content, err := readMultipart(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "badContent", err.Error())
		return
	}

	s.mu.Lock()
	s.calls["upload"]++
	f, ok := s.files[r.PathValue("id")]

	if ok {
		f.Content = content
		if !meta.IsZero() {
			f.ModifiedTime = meta.UTC().Truncate(time.Millisecond)
		}
	}

	var out fileJSON
	if ok {
		out = toJSON(f)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "notFound", "File not found: "+r.PathValue("id"))
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// readMultipart decodes a multipart/related upload: JSON metadata
// first, then the content part.
func readMultipart(r *http.Request) (time.Time, []byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return time.Time{}, nil, err
	}

	if mediaType != "multipart/related" {
		return time.Time{}, nil, fmt.Errorf("unexpected content type %s", mediaType)
	}

	mr := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := mr.NextPart()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("reading metadata part: %w", err)
	}

	var meta fileJSON
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		return time.Time{}, nil, fmt.Errorf("decoding metadata: %w", err)
	}

	var mtime time.Time

	if meta.ModifiedTime != "" {
		mtime, err = time.Parse(time.RFC3339Nano, meta.ModifiedTime)
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("parsing modifiedTime: %w", err)
		}
	}

	contentPart, err := mr.NextPart()
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("reading content part: %w", err)
	}

	raw, err := io.ReadAll(contentPart)
	if err != nil {
		return time.Time{}, nil, err
	}

	if contentPart.Header.Get("Content-Transfer-Encoding") == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(raw)))
		if err != nil {
			return time.Time{}, nil, fmt.Errorf("decoding base64 content: %w", err)
		}

		raw = decoded
	}

	return mtime, raw, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason, message string) {
	body := map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": message,
			"errors": []map[string]string{
				{"reason": reason, "message": message},
			},
		},
	}

	writeJSON(w, status, body)
}
