package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Size
	}{
		{"0", 0},
		{"4096", 4096},
		{"512KB", 512 * KB},
		{"512 kib", 512 * KB},
		{"1MB", MB},
		{"1.5M", MB + 512*KB},
		{"20MB", 20 * MB},
		{"2GiB", 2 * GB},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "MB", "-1MB", "12 parsecs", "1..5MB"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0B", Format(0))
	assert.Equal(t, "900B", Format(900))
	assert.Equal(t, "512KB", Format(512*KB))
	assert.Equal(t, "1.5MB", Format(MB+512*KB))
	assert.Equal(t, "20MB", Format(20*MB))
	assert.Equal(t, "-1KB", Format(-KB))
	assert.Equal(t, "3MB", (3 * MB).String())
}

func TestMustParse(t *testing.T) {
	assert.Panics(t, func() { MustParse("lots") })
	assert.Equal(t, 2*MB, MustParse("2MB"))
}
