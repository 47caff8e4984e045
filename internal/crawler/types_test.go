package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://habr.com/", want: "https://habr.com"},
		{in: "HTTPS://Habr.com/ru/articles/1/?x=1", want: "https://habr.com"},
		{in: "https://habr.com:443", want: "https://habr.com"},
		{in: "http://127.0.0.1:80/", want: "http://127.0.0.1"},
		{in: "http://127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{in: " https://www.geeksforgeeks.org ", want: "https://www.geeksforgeeks.org"},
		{in: "habr.com", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := Origin(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewHostIgnoreList(t *testing.T) {
	t.Parallel()

	host, err := NewHost("https://www.geeksforgeeks.org/", []string{
		" https://www.geeksforgeeks.org/videos/video-sitemap-1.xml ",
		"",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://www.geeksforgeeks.org", host.Origin)
	assert.True(t, host.Ignored("https://www.geeksforgeeks.org/videos/video-sitemap-1.xml"))
	assert.False(t, host.Ignored("https://www.geeksforgeeks.org/sitemap.xml"))
	assert.Len(t, host.Ignore, 1)
}

func TestCrawlItemSentinel(t *testing.T) {
	t.Parallel()

	assert.True(t, CrawlItem{}.IsSentinel())
	assert.False(t, CrawlItem{URL: "https://habr.com/1", Host: "https://habr.com"}.IsSentinel())
}

func TestErrorUnwrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := &HostError{Host: "https://habr.com", Err: &FetchError{URL: "https://habr.com/sitemap.xml", Err: cause}}
	assert.ErrorIs(t, err, cause)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "https://habr.com/sitemap.xml", fetchErr.URL)
	assert.Contains(t, err.Error(), "host https://habr.com")

	status := &StatusError{URL: "https://habr.com/x", StatusCode: 503}
	assert.Contains(t, status.Error(), "503")
	parseErr := &ParseError{URL: "u", Err: cause}
	assert.ErrorIs(t, parseErr, cause)
}
