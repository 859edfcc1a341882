package post_archiver

import (
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestNameTemplate(t *testing.T) {
	assert := assert_.New(t)

	post := &RawPost{Author: "Grace/Hopper", Timestamp: "2024-03-09T10:11:12Z"}
	name, err := MustNameTemplate("video", DefaultVideoNameTemplate).Execute(NewNameArgs(post, 0, "abc", ".mp4"))
	assert.NoError(err)
	assert.Equal("2024-03-09 - Grace-Hopper - video 1.mp4", name)

	name, err = MustNameTemplate("image", DefaultImageNameTemplate).Execute(NewNameArgs(post, 2, "f00", "png"))
	assert.NoError(err)
	assert.Equal("2024-03-09 - Grace-Hopper - image 3 - f00.png", name)

	_, err = NewNameTemplate("bad", "{{.Nope")
	assert.Error(err)
}

func TestSanitizeFilename(t *testing.T) {
	assert := assert_.New(t)
	assert.Equal("a-b-c d", SanitizeFilename("a/b\\c  <d>\x00"))
	assert.Equal("what", SanitizeFilename("what?"))
}
