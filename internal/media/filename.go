package media

import (
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"golang.org/x/crypto/blake2b"

	"scrapbook/internal/database"
)

const (
	ExtJPEG = "jpg"
	ExtPNG  = "png"
)

// hashLength is the number of hex characters of the URL digest kept in a
// cache filename.
const hashLength = 16

// HashURL returns the short digest used as the stem of cache filenames.
func HashURL(sourceURL string) string {
	sum := blake2b.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Extension picks the stored file extension for a source URL. PNG sources
// stay PNG; everything else, including frames pulled from video, is stored
// as JPEG.
func Extension(sourceURL string) string {
	p := sourceURL
	if u, err := url.Parse(sourceURL); err == nil {
		p = u.Path
	}
	if strings.EqualFold(path.Ext(p), ".png") {
		return ExtPNG
	}
	return ExtJPEG
}

// CacheFilename is the one place cache filenames are built:
// <hash(url)>_<quality>.<ext>. The name depends only on its inputs, so every
// retry and every concurrent worker for the same key writes the same file.
func CacheFilename(sourceURL string, quality database.QualityLevel) string {
	return HashURL(sourceURL) + "_" + string(quality) + "." + Extension(sourceURL)
}

// IsCacheFilename reports whether name has the shape CacheFilename produces.
// The file server uses it to refuse anything else.
func IsCacheFilename(name string) bool {
	stem, ext, ok := strings.Cut(name, ".")
	if !ok || (ext != ExtJPEG && ext != ExtPNG) {
		return false
	}
	hash, quality, ok := strings.Cut(stem, "_")
	if !ok || len(hash) != hashLength {
		return false
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return false
	}
	switch database.QualityLevel(quality) {
	case database.QualityThumbnail, database.QualityLow, database.QualityMedium:
		return true
	}
	return false
}
