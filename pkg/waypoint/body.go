package waypoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// IncomingFile describes an uploaded file saved to disk.
type IncomingFile struct {
	Name     string `json:"name"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// Open opens the saved upload.
func (f IncomingFile) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// ParsedBody is the structured result of parsing a request body.
type ParsedBody struct {
	// Value is the whole decoded body: a JSON value, or the form fields.
	Value  any
	Fields map[string]any
	Files  map[string][]IncomingFile
}

// BodyParser parses a request body into fields and files.
type BodyParser interface {
	Parse(ctx RequestContext) (*ParsedBody, error)
}

// BodyLimiter is implemented by requests that can cap how much of the body
// is read. Reads past the cap fail with *http.MaxBytesError.
type BodyLimiter interface {
	LimitBody(n int64)
}

// DefaultBodyParser handles JSON, urlencoded and multipart bodies.
type DefaultBodyParser struct {
	// MaxBytes limits non-multipart bodies; zero means 1 MiB.
	MaxBytes int64
	// MaxMultipartBytes limits multipart bodies; zero means 64 MiB.
	MaxMultipartBytes int64
	// MaxMemory is the multipart memory threshold; zero means 32 MiB.
	MaxMemory int64
	// UploadDir receives uploaded files; empty means os.TempDir().
	UploadDir string
}

const (
	defaultMaxBytes          = 1 << 20
	defaultMaxMultipartBytes = 64 << 20
	defaultMaxMemory         = 32 << 20
)

func limitBody(req RequestInterface, n int64) error {
	if req.ContentLength() > n {
		return ErrRequestEntityTooLarge("request body too large")
	}
	if l, ok := req.(BodyLimiter); ok {
		l.LimitBody(n)
	}
	return nil
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// Parse implements BodyParser
func (p *DefaultBodyParser) Parse(ctx RequestContext) (*ParsedBody, error) {
	req := ctx.Request()
	mediaType, _, _ := mime.ParseMediaType(req.ContentType())

	if mediaType == "multipart/form-data" {
		return p.parseMultipart(req)
	}

	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	if err := limitBody(req, maxBytes); err != nil {
		return nil, err
	}
	raw, err := req.Body()
	var httpErr *HttpError
	if errors.As(err, &httpErr) {
		return nil, httpErr
	}
	if tooLarge(err) {
		return nil, ErrRequestEntityTooLarge("request body too large").WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(raw)) > maxBytes {
		return nil, ErrRequestEntityTooLarge("request body too large")
	}

	body := &ParsedBody{Fields: map[string]any{}, Files: map[string][]IncomingFile{}}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return body, nil
	}

	switch {
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, ErrBadRequest("invalid form body").WithCause(err)
		}
		body.Fields = formFields(values)
		body.Value = body.Fields
	case mediaType == "" || mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, ErrBadRequest("invalid JSON body").WithCause(err)
		}
		body.Value = value
		if obj, ok := value.(map[string]any); ok {
			body.Fields = obj
		}
	default:
		body.Value = string(raw)
	}
	return body, nil
}

func (p *DefaultBodyParser) parseMultipart(req RequestInterface) (*ParsedBody, error) {
	maxMemory := p.MaxMemory
	if maxMemory <= 0 {
		maxMemory = defaultMaxMemory
	}
	maxBytes := p.MaxMultipartBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxMultipartBytes
	}
	if err := limitBody(req, maxBytes); err != nil {
		return nil, err
	}
	form, err := req.MultipartForm(maxMemory)
	if tooLarge(err) {
		return nil, ErrRequestEntityTooLarge("request body too large").WithCause(err)
	}
	if err != nil {
		return nil, ErrBadRequest("invalid multipart body").WithCause(err)
	}

	body := &ParsedBody{Fields: formFields(form.Value), Files: map[string][]IncomingFile{}}
	body.Value = body.Fields
	for name, headers := range form.File {
		for _, fh := range headers {
			file, err := p.save(name, fh)
			if err != nil {
				return nil, fmt.Errorf("save upload %q: %w", name, err)
			}
			body.Files[name] = append(body.Files[name], file)
		}
	}
	return body, nil
}

func (p *DefaultBodyParser) save(field string, fh *multipart.FileHeader) (IncomingFile, error) {
	src, err := fh.Open()
	if err != nil {
		return IncomingFile{}, err
	}
	defer src.Close()

	dir := p.UploadDir
	if dir == "" {
		dir = os.TempDir()
	}
	dst, err := os.CreateTemp(dir, "upload-*"+filepath.Ext(fh.Filename))
	if err != nil {
		return IncomingFile{}, err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(dst.Name())
		return IncomingFile{}, err
	}

	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		detected, err := mimetype.DetectFile(dst.Name())
		if err == nil {
			mimeType = detected.String()
		}
	}

	return IncomingFile{
		Name:     field,
		Filename: fh.Filename,
		Path:     dst.Name(),
		MimeType: mimeType,
		Size:     size,
	}, nil
}

func formFields(values map[string][]string) map[string]any {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			fields[k] = v[0]
			continue
		}
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		fields[k] = items
	}
	return fields
}

// parsedBody parses the body once per request and caches the result.
func parsedBody(ctx RequestContext, parser BodyParser) (*ParsedBody, error) {
	if body, ok := ctx.Get(parsedBodyKey).(*ParsedBody); ok {
		return body, nil
	}
	body, err := parser.Parse(ctx)
	if err != nil {
		return nil, err
	}
	ctx.Set(parsedBodyKey, body)
	return body, nil
}
