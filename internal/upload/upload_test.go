package upload

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapixcr/BioNote/internal/storage"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
)

type part struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

func png(size int) []byte {
	b := make([]byte, size)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}

func buildForm(t *testing.T, parts ...part) *multipart.Form {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		h := textproto.MIMEHeader{}
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, p.field, p.filename))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		fw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = fw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form
}

func newIntake(t *testing.T) (*Intake, *storage.Storage) {
	t.Helper()
	store := storage.New(afero.NewMemMapFs(), "http://localhost:8000/storage")
	m := metrics.New("test", prometheus.NewRegistry())
	return NewIntake(store, Config{}, m, logger.Nop()), store
}

func fieldMessage(t *testing.T, err error, field string) string {
	t.Helper()
	appErr := errors.From(err)
	require.Equal(t, errors.KindUpload, appErr.Kind, err.Error())
	require.NotEmpty(t, appErr.Fields[field])
	return appErr.Fields[field][0]
}

func TestLogoStoresAcceptedFile(t *testing.T) {
	in, store := newIntake(t)
	form := buildForm(t, part{"logo", "logo.png", "image/png", png(4 << 20)})

	stored, err := in.Logo(form, "")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, stored.Ref, stored.File)
	assert.True(t, strings.HasSuffix(stored.File, ".png"))
	assert.True(t, store.Exists(SubdirLogos, stored.File))

	assert.Equal(t, "http://localhost:8000/storage/logos/"+stored.File, in.Resolve(SubdirLogos, stored.Ref))
}

func TestLogoRejects(t *testing.T) {
	tests := []struct {
		name string
		part part
		msg  string
	}{
		{"empty", part{"logo", "logo.png", "image/png", nil}, "The file is empty."},
		{"too large", part{"logo", "logo.png", "image/png", png(6 << 20)}, "The file may not be greater than 5120 kilobytes."},
		{"extension", part{"logo", "logo.exe", "image/png", png(10)}, "The file must be a file of type: jpg, jpeg, png, gif, svg, webp."},
		{"mime", part{"logo", "logo.png", "text/plain", png(10)}, "The file must be an image."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, store := newIntake(t)
			_, err := in.Logo(buildForm(t, tt.part), "")
			require.Error(t, err)
			assert.Equal(t, tt.msg, fieldMessage(t, err, "logo"))

			entries, _ := afero.ReadDir(store.FS(), SubdirLogos)
			assert.Empty(t, entries)
		})
	}
}

func TestLogoSniffsMissingContentType(t *testing.T) {
	in, _ := newIntake(t)
	stored, err := in.Logo(buildForm(t, part{"logo", "logo", "", png(64)}), "")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stored.File, ".png"))
}

func TestLogoURL(t *testing.T) {
	in, _ := newIntake(t)

	stored, err := in.Logo(nil, "https://cdn.example.com/logo.png")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/logo.png", stored.Ref)
	assert.Empty(t, stored.File)
	assert.Equal(t, stored.Ref, in.Resolve(SubdirLogos, stored.Ref))

	_, err = in.Logo(nil, "ftp://cdn.example.com/logo.png")
	assert.Error(t, err)
	_, err = in.Logo(nil, "https://cdn.example.com/"+strings.Repeat("a", 500))
	assert.Error(t, err)

	stored, err = in.Logo(nil, "  ")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestDetectRawKeys(t *testing.T) {
	form := buildForm(t,
		part{"fotos[1]", "b.png", "image/png", png(10)},
		part{"fotos[0]", "a.png", "image/png", png(10)},
		part{"other", "c.png", "image/png", png(10)},
	)

	files := Detect(form, "fotos")
	require.Len(t, files, 2)
	assert.Equal(t, "a.png", files[0].Filename)
	assert.Equal(t, "b.png", files[1].Filename)

	form = buildForm(t, part{"fotos[]", "a.png", "image/png", png(10)})
	assert.Len(t, Detect(form, "fotos"), 1)
	assert.Empty(t, Detect(nil, "fotos"))
}

func TestPhotosAllOrNothing(t *testing.T) {
	in, store := newIntake(t)
	form := buildForm(t,
		part{"fotos[0]", "a.png", "image/png", png(10)},
		part{"fotos[1]", "b.png", "image/png", nil},
	)

	_, err := in.Photos(form, "fotos")
	require.Error(t, err)
	assert.Equal(t, "Photo 2: The file is empty.", fieldMessage(t, err, "fotos"))

	entries, _ := afero.ReadDir(store.FS(), SubdirPhotos)
	assert.Empty(t, entries)
}

func TestPhotosStoresBatch(t *testing.T) {
	in, store := newIntake(t)
	form := buildForm(t,
		part{"fotos[]", "a.png", "image/png", png(10)},
		part{"fotos[]", "b.jpg", "image/jpeg", png(10)},
	)

	names, err := in.Photos(form, "fotos")
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.True(t, strings.HasSuffix(names[0], "_0.png"))
	assert.True(t, strings.HasSuffix(names[1], "_1.jpg"))

	in.Remove(SubdirPhotos, names...)
	for _, n := range names {
		assert.False(t, store.Exists(SubdirPhotos, n))
	}
}
