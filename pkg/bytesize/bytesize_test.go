package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		size Size
		want string
	}{
		{0, "0B"},
		{512, "512B"},
		{1024, "1KB"},
		{1536, "1.5KB"},
		{5 * MB, "5MB"},
		{2*GB + 512*MB, "2.5GB"},
		{3 * TB, "3TB"},
		{-2 * MB, "-2MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.size), "size %d", tt.size)
	}
}

func TestStringMatchesFormat(t *testing.T) {
	assert.Equal(t, Format(5*MB), (5 * MB).String())
	assert.EqualValues(t, 5*1024*1024, (5 * MB).Bytes())
}
