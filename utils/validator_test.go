package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab", Truncate("abcdef", 2))
	assert.Equal(t, "第一", Truncate("第一集", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.example.com/provide/vod", NormalizeBaseURL("  https://api.example.com/provide/vod/// "))
}

func TestValidateHTTPURL(t *testing.T) {
	assert.True(t, ValidateHTTPURL("http://example.com/api.php"))
	assert.True(t, ValidateHTTPURL("https://example.com"))
	assert.False(t, ValidateHTTPURL("ftp://example.com"))
	assert.False(t, ValidateHTTPURL("example.com"))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "Hello world !", StripHTML("<p>Hello <b>world</b></p>\n\n!"))
}
