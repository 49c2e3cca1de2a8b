package media

import (
	"strings"
	"testing"

	"scrapbook/internal/database"
)

func TestCacheFilenameDeterministic(t *testing.T) {
	a := CacheFilename("http://ex.com/a.jpg", database.QualityLow)
	b := CacheFilename("http://ex.com/a.jpg", database.QualityLow)
	if a != b {
		t.Errorf("CacheFilename not deterministic: %q vs %q", a, b)
	}
	if !strings.HasSuffix(a, "_low.jpg") {
		t.Errorf("CacheFilename() = %q, want suffix _low.jpg", a)
	}
	if len(a) != hashLength+len("_low.jpg") {
		t.Errorf("CacheFilename() = %q has unexpected length", a)
	}

	if CacheFilename("http://ex.com/a.jpg", database.QualityMedium) == a {
		t.Error("quality level must change the filename")
	}
	if CacheFilename("http://ex.com/b.jpg", database.QualityLow) == a {
		t.Error("different URLs must not share a filename")
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://ex.com/a.jpg", ExtJPEG},
		{"http://ex.com/a.jpeg", ExtJPEG},
		{"http://ex.com/a.png", ExtPNG},
		{"http://ex.com/A.PNG?x=1", ExtPNG},
		{"http://ex.com/a.webp", ExtJPEG},
		{"http://ex.com/a.gif", ExtJPEG},
		{"http://ex.com/clip.mp4", ExtJPEG},
		{"http://ex.com/noext", ExtJPEG},
		{"http://ex.com/x.png/view", ExtJPEG},
	}

	for _, tt := range tests {
		if got := Extension(tt.url); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestIsCacheFilename(t *testing.T) {
	valid := CacheFilename("http://ex.com/a.png", database.QualityThumbnail)
	tests := []struct {
		name string
		want bool
	}{
		{valid, true},
		{CacheFilename("http://ex.com/a.jpg", database.QualityMedium), true},
		{"../etc/passwd", false},
		{"0123456789abcdef_low.gif", false},
		{"0123456789abcdef_high.jpg", false},
		{"0123456789abcdeg_low.jpg", false},
		{"abc_low.jpg", false},
		{"0123456789abcdef_low", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsCacheFilename(tt.name); got != tt.want {
			t.Errorf("IsCacheFilename(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
