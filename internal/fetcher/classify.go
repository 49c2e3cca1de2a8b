package fetcher

import (
	"net/url"
	"path"
	"strings"
)

// Kind is the handling class of a source URL.
type Kind int

const (
	KindImage Kind = iota
	KindVideo
	KindDenylisted
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindDenylisted:
		return "denylisted"
	default:
		return "unknown"
	}
}

// Classification is the result of Classify. Reason is set for denylisted
// URLs and names the rule that matched.
type Classification struct {
	Kind   Kind
	Reason string
}

// Hosts that block automated fetches or only serve HTML pages around media.
var denylistedHosts = []string{
	"facebook.com",
	"fb.com",
	"fb.watch",
	"instagram.com",
	"tiktok.com",
	"twitter.com",
	"x.com",
	"threads.net",
	"linkedin.com",
	"snapchat.com",
}

// Path fragments that mark a watch/reel page rather than a media file.
var denylistedPaths = []string{
	"/reel/",
	"/reels/",
	"/watch/",
	"/shorts/",
	"/stories/",
}

var videoHosts = []string{
	"v.pinimg.com",
	"video.twimg.com",
	"v.redd.it",
	"player.vimeo.com",
	"vod.",
}

var videoExtensions = map[string]bool{
	".mp4":  true,
	".webm": true,
	".mov":  true,
	".m4v":  true,
	".m3u8": true,
	".mkv":  true,
	".avi":  true,
}

// PreferredHosts are CDNs known to serve direct image files. The dimension
// resolver works through them first since they almost always succeed.
var PreferredHosts = []string{
	"i.pinimg.com",
	"images.unsplash.com",
	"i.imgur.com",
	"pbs.twimg.com",
	"i.redd.it",
	"cdn.shopify.com",
	"upload.wikimedia.org",
}

// ImageExtensions are URL suffixes that identify an image file.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp"}

// localPlaceholderPrefix is where the web application serves its own
// placeholder images.
const localPlaceholderPrefix = "/static/images/"

// IsLocalPlaceholder reports whether rawURL points at one of the
// application's own static placeholder images.
func IsLocalPlaceholder(rawURL string) bool {
	if strings.HasPrefix(rawURL, localPlaceholderPrefix) {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Host == "" && strings.HasPrefix(u.Path, localPlaceholderPrefix)
}

// hostMatches reports whether host equals domain or is a subdomain of it.
func hostMatches(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// Classify decides how a source URL is handled. It never touches the network.
func Classify(rawURL string) Classification {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Classification{Kind: KindDenylisted, Reason: "not an http(s) url"}
	}

	host := strings.ToLower(u.Hostname())
	p := strings.ToLower(u.Path)

	if hostMatches(host, "youtube.com") || host == "youtu.be" {
		return Classification{Kind: KindDenylisted, Reason: "youtube page"}
	}
	for _, domain := range denylistedHosts {
		if hostMatches(host, domain) {
			return Classification{Kind: KindDenylisted, Reason: "blocked domain " + domain}
		}
	}
	for _, fragment := range denylistedPaths {
		if strings.Contains(p, fragment) {
			return Classification{Kind: KindDenylisted, Reason: "not a direct media link (" + strings.Trim(fragment, "/") + ")"}
		}
	}

	if videoExtensions[path.Ext(p)] {
		return Classification{Kind: KindVideo}
	}
	for _, h := range videoHosts {
		if strings.HasSuffix(h, ".") {
			if strings.HasPrefix(host, h) {
				return Classification{Kind: KindVideo}
			}
			continue
		}
		if host == h {
			return Classification{Kind: KindVideo}
		}
	}

	return Classification{Kind: KindImage}
}
