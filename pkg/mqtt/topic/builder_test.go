package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder(t *testing.T) {
	b := NewBuilder("/site-a/video/")

	assert.Equal(t, "site-a/video", b.Root())
	assert.Equal(t, "site-a/video/command/front-door", b.Build("command", "front-door"))
	assert.Equal(t, "site-a/video/command/ack/+", b.Wildcard("command/ack"))
}
