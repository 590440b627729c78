package syncer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/multipart"
	"net/textproto"

	"github.com/google/uuid"
)

const boundaryPrefix = "checklist-sync-"

// Part is one section of a multipart/related body. Base64 parts are
// encoded and marked with a Content-Transfer-Encoding header.
type Part struct {
	Content     []byte
	ContentType string
	Base64      bool
}

// MultipartBody is an encoded multipart/related request body together
// with the Content-Type header that names its boundary.
type MultipartBody struct {
	ContentType string
	Boundary    string
	Body        []byte
}

// EncodeMultipart joins parts into a multipart/related body using a
// freshly generated boundary.
func EncodeMultipart(parts []Part) (*MultipartBody, error) {
	return encodeMultipart(parts, boundaryPrefix+uuid.NewString())
}

func encodeMultipart(parts []Part, boundary string) (*MultipartBody, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("multipart body needs at least one part")
	}

	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("setting boundary: %w", err)
	}

	for i, p := range parts {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", p.ContentType)

		content := p.Content
		if p.Base64 {
			header.Set("Content-Transfer-Encoding", "base64")
			content = []byte(base64.StdEncoding.EncodeToString(p.Content))
		}

		pw, err := w.CreatePart(header)
		if err != nil {
			return nil, fmt.Errorf("creating part %d: %w", i, err)
		}

		if _, err := pw.Write(content); err != nil {
			return nil, fmt.Errorf("writing part %d: %w", i, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	return &MultipartBody{
		ContentType: "multipart/related; boundary=" + boundary,
		Boundary:    boundary,
		Body:        buf.Bytes(),
	}, nil
}
