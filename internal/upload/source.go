package upload

import (
	"mime/multipart"
	"sort"
	"strconv"
	"strings"
)

// source finds the files sent for a field in a parsed multipart form.
type source func(form *multipart.Form, field string) []*multipart.FileHeader

// sources are consulted in order; the first one that yields files wins.
// Clients disagree on naming, so a field may arrive as "logo", "logo[]"
// or "fotos[0]", "fotos[1]".
var sources = []source{structured, raw}

// Detect returns the files uploaded under field.
func Detect(form *multipart.Form, field string) []*multipart.FileHeader {
	if form == nil || len(form.File) == 0 {
		return nil
	}
	for _, src := range sources {
		if files := src(form, field); len(files) > 0 {
			return files
		}
	}
	return nil
}

func structured(form *multipart.Form, field string) []*multipart.FileHeader {
	return append(append([]*multipart.FileHeader(nil), form.File[field]...), form.File[field+"[]"]...)
}

// raw scans every file key and keeps the ones whose base name is field,
// ordered by their bracketed index.
func raw(form *multipart.Form, field string) []*multipart.FileHeader {
	type indexed struct {
		key   string
		index int
	}
	var keys []indexed
	for key := range form.File {
		base, idx := splitKey(key)
		if base == field {
			keys = append(keys, indexed{key: key, index: idx})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].index != keys[j].index {
			return keys[i].index < keys[j].index
		}
		return keys[i].key < keys[j].key
	})

	var out []*multipart.FileHeader
	for _, k := range keys {
		out = append(out, form.File[k.key]...)
	}
	return out
}

// splitKey turns "fotos[3]" into ("fotos", 3). Keys without a numeric index sort last.
func splitKey(key string) (string, int) {
	open := strings.IndexByte(key, '[')
	if open < 0 {
		return key, int(^uint(0) >> 1)
	}
	base := key[:open]
	rest := strings.TrimSuffix(key[open+1:], "]")
	if i := strings.IndexByte(rest, ']'); i >= 0 {
		rest = rest[:i]
	}
	idx, err := strconv.Atoi(rest)
	if err != nil {
		return base, int(^uint(0) >> 1)
	}
	return base, idx
}
