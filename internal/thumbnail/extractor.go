package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/disintegration/imaging"

	"github.com/prappser/prappser_media/internal/asset"
	"github.com/prappser/prappser_media/internal/mediaerr"
)

// Extractor turns source bytes into a single still frame.
//
// Errors wrap mediaerr.ErrSourceUnavailable when reading the source or
// running the decoder failed for reasons outside the data itself, and
// mediaerr.ErrSourceCorrupt when the data cannot be decoded.
type Extractor interface {
	Extract(ctx context.Context, kind asset.Kind, src io.Reader) (image.Image, error)
}

// MediaExtractor decodes images directly and pulls one frame out of videos
// with ffmpeg.
type MediaExtractor struct {
	FFmpegPath  string
	FrameOffset time.Duration
	TempDir     string
}

func NewMediaExtractor(config Config) *MediaExtractor {
	path := config.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	return &MediaExtractor{FFmpegPath: path, FrameOffset: config.FrameOffset}
}

func (e *MediaExtractor) Extract(ctx context.Context, kind asset.Kind, src io.Reader) (image.Image, error) {
	switch kind {
	case asset.KindImage:
		return decodeImage(src)
	case asset.KindVideo:
		return e.extractVideoFrame(ctx, src)
	default:
		return nil, fmt.Errorf("%w: no still frame for %q assets", mediaerr.ErrSourceCorrupt, kind)
	}
}

func decodeImage(src io.Reader) (image.Image, error) {
	tr := &trackingReader{r: src}
	img, err := imaging.Decode(tr, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	if tr.err != nil {
		return nil, fmt.Errorf("%w: read source: %v", mediaerr.ErrSourceUnavailable, tr.err)
	}
	return nil, fmt.Errorf("%w: decode image: %v", mediaerr.ErrSourceCorrupt, err)
}

func (e *MediaExtractor) extractVideoFrame(ctx context.Context, src io.Reader) (image.Image, error) {
	ffmpeg, err := exec.LookPath(e.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found: %v", mediaerr.ErrSourceUnavailable, err)
	}

	// ffmpeg needs a seekable input for most containers
	tmp, err := os.CreateTemp(e.TempDir, "thumb-src-*")
	if err != nil {
		return nil, fmt.Errorf("%w: temp file: %v", mediaerr.ErrSourceUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read source: %v", mediaerr.ErrSourceUnavailable, err)
	}

	frame, err := e.runFFmpeg(ctx, ffmpeg, tmp.Name(), e.FrameOffset)
	if err == nil && len(frame) == 0 && e.FrameOffset > 0 {
		// clip shorter than the offset
		frame, err = e.runFFmpeg(ctx, ffmpeg, tmp.Name(), 0)
	}
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: ffmpeg produced no frame", mediaerr.ErrSourceCorrupt)
	}

	img, err := imaging.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame: %v", mediaerr.ErrSourceCorrupt, err)
	}
	return img, nil
}

func (e *MediaExtractor) runFFmpeg(ctx context.Context, ffmpeg, input string, offset time.Duration) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}
	cmd := exec.CommandContext(ctx, ffmpeg, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: ffmpeg: %v", mediaerr.ErrSourceUnavailable, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: ffmpeg exited %d: %s", mediaerr.ErrSourceCorrupt, exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v", mediaerr.ErrSourceUnavailable, err)
	}
	return stdout.Bytes(), nil
}

// Render fits img into a width x height raster, cropping from the center, and
// encodes it as JPEG.
func Render(img image.Image, width, height, quality int) ([]byte, error) {
	thumb := imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// trackingReader remembers the first non-EOF read error so decode failures
// caused by I/O can be told apart from bad data.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
