package util

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestFilenameFromURLString(t *testing.T) {
	assert := assert_.New(t)

	name, err := FilenameFromURLString("https://dms.licdn.com/playlist/vid/clip.mp4?e=123")
	assert.NoError(err)
	assert.Equal("clip.mp4", name)

	_, err = FilenameFromURLString("https://example.com/")
	assert.ErrorIs(err, ErrNoFilename)
	_, err = FilenameFromURLString("https://example.com/..")
	assert.ErrorIs(err, ErrNoFilename)
}

func TestExtHelpers(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("jpg", ExtFromURLString("https://media.licdn.com/image/photo.JPG", "bin"))
	assert.Equal("bin", ExtFromURLString("https://media.licdn.com/image/C4E22AQ", "bin"))
	assert.Equal("png", ExtFromContentType("image/png", "bin"))
	assert.Equal("jpg", ExtFromContentType("image/jpeg; charset=binary", "bin"))
	assert.Equal("bin", ExtFromContentType("", "bin"))
}
