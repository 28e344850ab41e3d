package remux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgs(t *testing.T) {
	spec := LaunchSpec{
		InputPath: "/videos/show.mp4",
		Offset:    93.5,
		RtmpURL:   "rtmp://ingest.example.com/live",
		RtmpKey:   "s3cretkey",
	}

	args := BuildArgs(spec)

	assert.Equal(t, []string{
		"-re",
		"-ss", "93.50",
		"-i", "/videos/show.mp4",
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "flv",
		"-rtmp_live", "live",
		"-rw_timeout", "5000000",
		"rtmp://ingest.example.com/live/s3cretkey",
	}, args)
}

func TestDestinationTrailingSlash(t *testing.T) {
	spec := LaunchSpec{RtmpURL: "rtmp://host/app/", RtmpKey: "key"}
	assert.Equal(t, "rtmp://host/app/key", spec.Destination())

	spec.RtmpURL = "rtmp://host/app"
	assert.Equal(t, "rtmp://host/app/key", spec.Destination())
}

func TestMaskedDestination(t *testing.T) {
	spec := LaunchSpec{RtmpURL: "rtmp://host/app", RtmpKey: "s3cretkey"}
	masked := spec.MaskedDestination()
	assert.Equal(t, "rtmp://host/app/s3cr****", masked)
	assert.NotContains(t, masked, "s3cretkey")

	spec.RtmpKey = "abc"
	assert.Equal(t, "rtmp://host/app/****", spec.MaskedDestination())
}

func TestTailBufferKeepsTail(t *testing.T) {
	b := newTailBuffer(8)

	_, err := b.Write([]byte("0123456789abcdef"))
	assert.NoError(t, err)
	assert.Equal(t, "89abcdef", b.String())

	_, _ = b.Write([]byte("XY"))
	assert.Equal(t, "abcdefXY", b.String())
}

func TestTailBufferSmallWrites(t *testing.T) {
	b := newTailBuffer(1024)
	for i := 0; i < 10; i++ {
		_, _ = b.Write([]byte("chunk "))
	}
	assert.Equal(t, strings.Repeat("chunk ", 10), b.String())
}
