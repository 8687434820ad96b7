package articles

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"# Title\n\nBody", "Title Body"},
		{"some **bold** and *italic*", "some bold and italic"},
		{"a [link](https://example.com) here", "a link here"},
		{"![alt text](img.png)", "alt text"},
		{"run `go test` now", "run go test now"},
		{"~~gone~~ kept", "gone kept"},
		{"> quoted\nline", "quoted line"},
		{"  spaced   out  ", "spaced out"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripMarkdown(tt.in), tt.in)
	}
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", Excerpt("short", ExcerptLength))

	long := strings.Repeat("あ", 200)
	got := Excerpt(long, ExcerptLength)
	assert.Equal(t, strings.Repeat("あ", 150)+"...", got)
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2025, 3, 7, 9, 5, 0, 0, time.UTC)
	assert.Equal(t, "2025年3月7日 09:05", FormatDate(ts))
}
