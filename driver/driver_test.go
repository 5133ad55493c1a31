package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseArgsDownload(t *testing.T) {
	host, file, ok := parseArgs([]string{"10.0.0.5"})
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.5", host)
	assert.Empty(t, file)
}

func TestParseArgsUpload(t *testing.T) {
	host, file, ok := parseArgs([]string{"10.0.0.5", "firmware.bin"})
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.5", host)
	assert.Equal(t, "firmware.bin", file)
}

func TestParseArgsRejectsOtherArity(t *testing.T) {
	_, _, ok := parseArgs(nil)
	assert.False(t, ok)

	_, _, ok = parseArgs([]string{"a", "b", "c"})
	assert.False(t, ok)
}
