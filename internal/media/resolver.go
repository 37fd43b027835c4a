package media

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"go-dm/internal/apperr"
)

// Upload is a raw blob handed in by a client.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Resolver turns uploads into media references and vets references
// before a message that carries one is stored.
type Resolver struct {
	store BlobStore
}

func NewResolver(store BlobStore) *Resolver {
	return &Resolver{store: store}
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// Voice notes recorded in the browser arrive as webm.
var defaultExt = map[string]string{
	"voice": ".webm",
	"video": ".webm",
	"file":  ".bin",
}

func mediaKind(kind string) bool {
	_, ok := defaultExt[kind]
	return ok
}

// Resolve stores up under <kind>/<uuid><ext> and returns its URI.
func (r *Resolver) Resolve(ctx context.Context, kind string, up Upload) (string, error) {
	if !mediaKind(kind) {
		return "", apperr.Invalid("kind", "must be one of file, voice, video")
	}
	if up.Body == nil || up.Size == 0 {
		return "", apperr.Invalid("file", "upload is empty")
	}

	key := kind + "/" + uuid.NewString() + extension(kind, up)
	contentType := up.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := r.store.Put(ctx, key, contentType, up.Body, up.Size); err != nil {
		return "", apperr.Storage("put blob", err)
	}
	return r.store.URL(key), nil
}

// Check accepts only references this store issued for the given kind.
func (r *Resolver) Check(kind, ref string) error {
	if ref == "" {
		return apperr.Invalid("media_ref", "required for "+kind+" messages")
	}
	if _, err := url.Parse(ref); err != nil {
		return apperr.Invalid("media_ref", "not a valid URI")
	}
	name, ok := strings.CutPrefix(ref, r.store.Prefix()+kind+"/")
	if !ok {
		return apperr.Invalid("media_ref", "was not issued for "+kind+" uploads")
	}
	// Issued keys are a single file name under the kind directory.
	if name == "" || strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return apperr.Invalid("media_ref", "does not name an uploaded file")
	}
	return nil
}

func extension(kind string, up Upload) string {
	if ext := strings.ToLower(filepath.Ext(up.Filename)); extPattern.MatchString(ext) {
		return ext
	}
	if up.ContentType != "" {
		if exts, _ := mime.ExtensionsByType(up.ContentType); len(exts) > 0 {
			return exts[0]
		}
	}
	return defaultExt[kind]
}

// ReadUpload pulls the "file" part out of a multipart request, bounded by
// maxBytes. The caller must call the returned cleanup func.
func ReadUpload(w http.ResponseWriter, r *http.Request, maxBytes int64) (Upload, func(), error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return Upload{}, func() {}, apperr.Invalid("file", err.Error())
	}
	cleanup := func() {
		if r.MultipartForm != nil {
			r.MultipartForm.RemoveAll()
		}
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		cleanup()
		return Upload{}, func() {}, apperr.Invalid("file", "missing file part")
	}
	return Upload{
			Filename:    hdr.Filename,
			ContentType: partType(hdr),
			Size:        hdr.Size,
			Body:        f,
		}, func() {
			f.Close()
			cleanup()
		}, nil
}

func partType(hdr *multipart.FileHeader) string {
	ct := hdr.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ""
}
