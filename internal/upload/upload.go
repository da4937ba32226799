package upload

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/storage"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
)

// Destination directories under the storage root.
const (
	SubdirLogos  = "logos"
	SubdirPhotos = "pruebas"
)

const (
	DefaultMaxBytes     = 5120 * 1024
	DefaultMaxURLLength = 500
)

var allowedExtensions = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "svg": true, "webp": true,
}

var allowedMIME = map[string]bool{
	"image/jpeg":               true,
	"image/jpg":                true,
	"image/png":                true,
	"image/gif":                true,
	"image/svg+xml":            true,
	"image/webp":               true,
	"application/octet-stream": true,
}

var extensionByMIME = map[string]string{
	"image/jpeg":    "jpg",
	"image/png":     "png",
	"image/gif":     "gif",
	"image/svg+xml": "svg",
	"image/webp":    "webp",
}

type Config struct {
	MaxBytes     int64
	MaxURLLength int
}

// Intake validates uploaded images and moves them into storage.
type Intake struct {
	store   *storage.Storage
	cfg     Config
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewIntake(store *storage.Storage, cfg Config, m *metrics.Metrics, log *logger.Logger) *Intake {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxURLLength <= 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	return &Intake{
		store:   store,
		cfg:     cfg,
		metrics: m,
		log:     log.With("component", "upload"),
		now:     time.Now,
	}
}

// Stored is the outcome of a single-reference intake. File is set only when
// a file was written and must be removed if the surrounding operation fails.
type Stored struct {
	Ref  string
	File string
}

// checked is a file that passed validation and is ready to be written.
type checked struct {
	header *multipart.FileHeader
	ext    string
}

// Logo stores the logo sent as a file in form, or else accepts rawURL.
// It returns nil when neither was provided.
func (in *Intake) Logo(form *multipart.Form, rawURL string) (*Stored, error) {
	files := Detect(form, "logo")
	if len(files) > 0 {
		c, err := in.check("logo", files[0])
		if err != nil {
			in.metrics.ObserveUpload(SubdirLogos, "rejected")
			return nil, err
		}
		name, err := in.write(SubdirLogos, c, -1)
		if err != nil {
			in.metrics.ObserveUpload(SubdirLogos, "failed")
			return nil, err
		}
		in.metrics.ObserveUpload(SubdirLogos, "stored")
		return &Stored{Ref: name, File: name}, nil
	}

	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, nil
	}
	if err := in.ValidateURL("logo", rawURL); err != nil {
		return nil, err
	}
	return &Stored{Ref: rawURL}, nil
}

// Photos validates every file sent under field and writes them only if all
// pass. On any failure nothing written by this call is left behind.
func (in *Intake) Photos(form *multipart.Form, field string) ([]string, error) {
	files := Detect(form, field)
	if len(files) == 0 {
		return nil, nil
	}

	batch := make([]checked, 0, len(files))
	for i, fh := range files {
		c, err := in.check(field, fh)
		if err != nil {
			in.metrics.ObserveUpload(SubdirPhotos, "rejected")
			if appErr := errors.From(err); appErr.Fields != nil {
				appErr.Fields[field] = []string{fmt.Sprintf("Photo %d: %s", i+1, appErr.Fields[field][0])}
			}
			return nil, err
		}
		batch = append(batch, *c)
	}

	names := make([]string, 0, len(batch))
	for i := range batch {
		name, err := in.write(SubdirPhotos, &batch[i], i)
		if err != nil {
			in.metrics.ObserveUpload(SubdirPhotos, "failed")
			in.Remove(SubdirPhotos, names...)
			return nil, err
		}
		names = append(names, name)
	}
	in.metrics.ObserveUpload(SubdirPhotos, "stored")
	return names, nil
}

// ValidateURL accepts absolute http(s) URLs up to the configured length.
func (in *Intake) ValidateURL(field, raw string) error {
	if len(raw) > in.cfg.MaxURLLength {
		return errors.Field(field, fmt.Sprintf("The %s may not be greater than %d characters.", field, in.cfg.MaxURLLength))
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Field(field, fmt.Sprintf("The %s must be a valid URL or an image file.", field))
	}
	return nil
}

// Remove deletes stored files, logging failures.
func (in *Intake) Remove(subdir string, names ...string) {
	for _, name := range names {
		if name == "" || IsRemote(name) {
			continue
		}
		if err := in.store.Delete(subdir, strings.TrimPrefix(name, subdir+"/")); err != nil {
			in.log.Error(err, "failed to remove stored file", "subdir", subdir, "name", name)
		}
	}
}

// Resolve turns a stored reference into a public URL. Remote URLs pass through.
func (in *Intake) Resolve(subdir, ref string) string {
	if ref == "" || IsRemote(ref) {
		return ref
	}
	return in.store.URL(subdir, strings.TrimPrefix(ref, subdir+"/"))
}

// Resolver binds Resolve to subdir.
func (in *Intake) Resolver(subdir string) func(ref string) string {
	return func(ref string) string { return in.Resolve(subdir, ref) }
}

// IsRemote reports whether ref is an absolute http(s) URL rather than a stored file name.
func IsRemote(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func (in *Intake) check(field string, fh *multipart.FileHeader) (*checked, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Upload(field, "The file could not be read.", err)
	}
	defer f.Close()

	if fh.Size <= 0 {
		return nil, errors.Upload(field, "The file is empty.", nil)
	}
	if fh.Size > in.cfg.MaxBytes {
		return nil, errors.Upload(field,
			fmt.Sprintf("The file may not be greater than %d kilobytes.", in.cfg.MaxBytes/1024), nil)
	}

	declared, err := declaredType(fh, f)
	if err != nil {
		return nil, errors.Upload(field, "The file could not be read.", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fh.Filename), "."))
	if ext == "" {
		ext = extensionByMIME[declared]
		if ext == "" {
			ext = "jpg"
		}
	}
	if !allowedExtensions[ext] {
		return nil, errors.Upload(field, "The file must be a file of type: jpg, jpeg, png, gif, svg, webp.", nil)
	}
	if !allowedMIME[declared] {
		return nil, errors.Upload(field, "The file must be an image.", nil)
	}

	return &checked{header: fh, ext: ext}, nil
}

// declaredType returns the part's Content-Type without parameters. When the
// client sent none, the content is sniffed.
func declaredType(fh *multipart.FileHeader, f multipart.File) (string, error) {
	if ct := fh.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err == nil {
			return strings.ToLower(mediaType), nil
		}
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])), nil
	}

	detected, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return strings.SplitN(detected.String(), ";", 2)[0], nil
}

func (in *Intake) write(subdir string, c *checked, index int) (string, error) {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:13]
	name := fmt.Sprintf("%d_%s", in.now().Unix(), random)
	if index >= 0 {
		name = fmt.Sprintf("%s_%d", name, index)
	}
	name += "." + c.ext

	f, err := c.header.Open()
	if err != nil {
		return "", errors.Internal(fmt.Errorf("reopen upload: %w", err))
	}
	defer f.Close()

	if _, err := in.store.Save(subdir, name, f); err != nil {
		return "", errors.Internal(fmt.Errorf("store upload: %w", err))
	}
	return name, nil
}
