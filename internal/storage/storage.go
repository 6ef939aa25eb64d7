// Package storage reads source documents by reference. References are
// slash-separated keys relative to a root directory or bucket.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"path"
	"strings"

	"github.com/joseph-ayodele/docextract/constants"
)

// Document is the raw bytes behind a document reference.
type Document struct {
	Ref         string
	Data        []byte
	ContentType string
	SHA256      string
}

// Source resolves document references. Read wraps common.ErrNotFound when
// the reference does not exist.
type Source interface {
	Read(ctx context.Context, ref string) (Document, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

var tiffMagic = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}

// SniffContentType picks a MIME type from the leading bytes, falling back to
// the reference extension when the bytes are not conclusive.
func SniffContentType(ref string, data []byte) string {
	for _, m := range tiffMagic {
		if bytes.HasPrefix(data, m) {
			return "image/tiff"
		}
	}
	detected := http.DetectContentType(data)
	if i := strings.IndexByte(detected, ';'); i >= 0 {
		detected = detected[:i]
	}
	for _, ct := range constants.ContentTypes {
		if ct == detected {
			return detected
		}
	}
	if ct, ok := constants.ContentTypes[constants.NormalizeExt(path.Ext(ref))]; ok {
		return ct
	}
	return detected
}

// Allowed reports whether ref carries a supported document extension.
func Allowed(ref string) bool {
	_, ok := constants.AllowedExtensions[constants.NormalizeExt(path.Ext(ref))]
	return ok
}

// IsHidden reports whether the last element of ref starts with '.'.
func IsHidden(ref string) bool {
	return strings.HasPrefix(path.Base(ref), ".")
}

func newDocument(ref string, data []byte, contentType string) Document {
	sum := sha256.Sum256(data)
	if contentType == "" || contentType == "application/octet-stream" || contentType == "binary/octet-stream" {
		contentType = SniffContentType(ref, data)
	}
	return Document{
		Ref:         ref,
		Data:        data,
		ContentType: contentType,
		SHA256:      hex.EncodeToString(sum[:]),
	}
}
