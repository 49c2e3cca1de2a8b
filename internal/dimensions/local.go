package dimensions

import (
	"fmt"
	"image"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"scrapbook/internal/fetcher"
	"scrapbook/internal/media"
)

// cachedPathPrefix is where the server exposes cached files.
const cachedPathPrefix = "/cached/"

// localCacheName reports the cache filename a same-origin /cached/ URL points
// at. Anything with a scheme or host, or a name the cache would never write,
// is not local.
func localCacheName(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "", false
	}
	name, ok := strings.CutPrefix(u.Path, cachedPathPrefix)
	if !ok || !media.IsCacheFilename(name) {
		return "", false
	}
	return name, true
}

// localDimensions reads the image header of a cached file.
func (r *Resolver) localDimensions(name string) (int, int, error) {
	path := filepath.Join(r.cfg.CacheDir, name)
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open cached file: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, &fetcher.DecodeError{URL: cachedPathPrefix + name, Err: err}
	}
	return cfg.Width, cfg.Height, nil
}
