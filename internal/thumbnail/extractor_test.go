package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/mediaerr"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{G: 255, A: 255}), imaging.PNG))
	return buf.Bytes()
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestMediaExtractor_DecodesImages(t *testing.T) {
	// given
	e := NewMediaExtractor(DefaultConfig())

	// when
	img, err := e.Extract(context.Background(), asset.KindImage, bytes.NewReader(pngBytes(t, 50, 40)))

	// then
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 40, img.Bounds().Dy())
}

func TestMediaExtractor_ClassifiesFailures(t *testing.T) {
	e := NewMediaExtractor(DefaultConfig())
	ctx := context.Background()

	_, err := e.Extract(ctx, asset.KindImage, bytes.NewReader([]byte("garbage")))
	assert.ErrorIs(t, err, mediaerr.ErrSourceCorrupt)

	_, err = e.Extract(ctx, asset.KindImage, io.MultiReader(bytes.NewReader([]byte{0x89, 'P', 'N', 'G'}), failingReader{}))
	assert.ErrorIs(t, err, mediaerr.ErrSourceUnavailable)

	_, err = e.Extract(ctx, asset.KindAudio, bytes.NewReader([]byte("mp3")))
	assert.ErrorIs(t, err, mediaerr.ErrSourceCorrupt)
}

func TestMediaExtractor_MissingFFmpegIsUnavailable(t *testing.T) {
	// given
	e := &MediaExtractor{FFmpegPath: "/nonexistent/ffmpeg-binary"}

	// when
	_, err := e.Extract(context.Background(), asset.KindVideo, bytes.NewReader([]byte("video")))

	// then
	assert.ErrorIs(t, err, mediaerr.ErrSourceUnavailable)
}

func TestRender_FillsTargetRaster(t *testing.T) {
	// given
	tall := imaging.New(100, 400, color.NRGBA{B: 255, A: 255})

	// when
	data, err := Render(tall, 320, 180, 80)

	// then
	require.NoError(t, err)
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())
}
