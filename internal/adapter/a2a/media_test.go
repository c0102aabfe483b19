package a2a

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

func TestFormatForMIME(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               "jpeg",
		"image/jpg":                "jpeg",
		"IMAGE/PNG":                "png",
		"image/webp; charset=utf8": "webp",
		"video/quicktime":          "mov",
		"video/3gpp":               "three_gp",
		"video/x-matroska":         "mkv",
		"video/x-ms-wmv":           "wmv",
		"image/heic":               "heic",
		"video/jpg":                "jpeg",
		"tiff":                     "tiff",
	}
	for mime, want := range tests {
		assert.Equal(t, want, FormatForMIME(mime), mime)
	}
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "jpeg", NormalizeFormat(" JPG "))
	assert.Equal(t, "three_gp", NormalizeFormat("3gp"))
	assert.Equal(t, "mov", NormalizeFormat("quicktime"))
	assert.Equal(t, "png", NormalizeFormat("png"))
	assert.Equal(t, "mov", NormalizeFormat("video/quicktime"))
	assert.Equal(t, "jpeg", NormalizeFormat("image/jpg"))
	assert.Equal(t, "", NormalizeFormat(""))
}

func TestMIMEForMedia(t *testing.T) {
	assert.Equal(t, "image/jpeg", MIMEForMedia(domain.MediaImage, "jpg"))
	assert.Equal(t, "video/mov", MIMEForMedia(domain.MediaVideo, "mov"))
	// A receiver maps the literal form back to the same format.
	assert.Equal(t, "mov", FormatForMIME(MIMEForMedia(domain.MediaVideo, "mov")))
	assert.Equal(t, "three_gp", FormatForMIME(MIMEForMedia(domain.MediaVideo, "3gp")))
}

func TestKindForMIME(t *testing.T) {
	k, ok := KindForMIME("image/png")
	assert.True(t, ok)
	assert.Equal(t, domain.MediaImage, k)

	k, ok = KindForMIME("Video/MP4")
	assert.True(t, ok)
	assert.Equal(t, domain.MediaVideo, k)

	_, ok = KindForMIME("application/pdf")
	assert.False(t, ok)
}

func TestNormalizeBase64(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "QUJD", "QUJD"},
		{"whitespace", "  QUJD\n", "QUJD"},
		{"data uri", "data:image/png;base64,QUJD", "QUJD"},
		{"data uri upper", "DATA:image/png;base64, QUJD ", "QUJD"},
		{"line wrapped", "QUJD\r\nREVG", "QUJDREVG"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBase64(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeBase64Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"data:image/png;base64",
		"data:image/png;base64,",
		"not base64!",
		"QUJ",
		strings.Repeat("-", 8),
	} {
		_, err := NormalizeBase64(in)
		assert.Error(t, err, "%q", in)
	}
}
