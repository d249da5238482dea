package stream

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/prappser/prappser_media/internal/assetkey"
	"github.com/prappser/prappser_media/internal/contenttype"
	"github.com/prappser/prappser_media/internal/mediaerr"
	"github.com/prappser/prappser_media/internal/metrics"
)

const CacheControl = "public, max-age=31536000, immutable"

// Server serves asset bytes from a local storage root with single-range
// support. It holds no per-request state; every request opens its own
// handle.
type Server struct {
	roots  []string
	prefix string
}

// NewServer returns a Server answering requests whose path starts with prefix,
// e.g. "/media".
func NewServer(rootDir, prefix string) *Server {
	return &Server{
		roots:  []string{rootDir},
		prefix: strings.TrimSuffix(prefix, "/") + "/",
	}
}

// AddRoot registers another local tier root, searched after the existing ones
// when a key is missing there. Keys are tier-independent, so a migrated asset
// keeps its URL.
func (s *Server) AddRoot(rootDir string) {
	s.roots = append(s.roots, rootDir)
}

func (s *Server) Serve(ctx *fasthttp.RequestCtx) {
	defer func() {
		metrics.StreamResponsesTotal.WithLabelValues(strconv.Itoa(ctx.Response.StatusCode())).Inc()
	}()

	if !ctx.IsGet() {
		ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
		ctx.Response.Header.Set(fasthttp.HeaderAllow, fasthttp.MethodGet)
		return
	}

	// PathOriginal is the undecoded, unnormalized path as sent by the client.
	raw := string(ctx.URI().PathOriginal())
	rest, ok := strings.CutPrefix(raw, s.prefix)
	if !ok {
		s.fail(ctx, fmt.Errorf("%w: %q outside %s", mediaerr.ErrPathTraversal, raw, s.prefix))
		return
	}
	key, err := assetkey.FromRequestPath(rest)
	if err != nil {
		s.fail(ctx, err)
		return
	}

	f, info, err := s.open(key)
	if err != nil {
		s.fail(ctx, err)
		return
	}

	size := info.Size()
	w := ParseRange(string(ctx.Request.Header.Peek(fasthttp.HeaderRange)), size)

	ctx.Response.Header.Set(fasthttp.HeaderAcceptRanges, "bytes")

	switch w.Kind {
	case Unsatisfiable:
		f.Close()
		err := fmt.Errorf("%w: %q for %d bytes", mediaerr.ErrRangeUnsatisfiable, ctx.Request.Header.Peek(fasthttp.HeaderRange), size)
		log.Debug().Err(err).Str("key", key).Msg("[STREAM] Range not satisfiable")
		// 416 carries no body, so ctx.Error is not used
		ctx.Response.Header.Set(fasthttp.HeaderContentRange, "bytes */"+strconv.FormatInt(size, 10))
		ctx.SetStatusCode(mediaerr.HTTPStatus(err))
		return
	case SingleRange:
		ctx.Response.Header.Set(fasthttp.HeaderContentRange, fmt.Sprintf("bytes %d-%d/%d", w.Start, w.End, size))
		ctx.SetStatusCode(fasthttp.StatusPartialContent)
	default:
		w.Start, w.End = 0, size-1
		ctx.SetStatusCode(fasthttp.StatusOK)
	}

	ctx.SetContentType(contenttype.ForFilename(key))
	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, CacheControl)

	length := w.End - w.Start + 1
	ctx.SetBodyStream(newRangeReader(f, key, w.Start, length), int(length))
}

// open returns the key's file from the first root that has it.
func (s *Server) open(key string) (*os.File, os.FileInfo, error) {
	var err error
	for _, root := range s.roots {
		var f *os.File
		var info os.FileInfo
		f, info, err = openUnder(root, key)
		if !errors.Is(err, mediaerr.ErrNotFound) {
			return f, info, err
		}
	}
	return nil, nil, err
}

// openUnder resolves key under root and returns an open regular file.
func openUnder(root, key string) (*os.File, os.FileInfo, error) {
	full, err := assetkey.Resolve(root, key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", mediaerr.ErrNotFound, key)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", key, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s", mediaerr.ErrNotAFile, key)
	}
	return f, info, nil
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, err error) {
	status := mediaerr.HTTPStatus(err)
	switch status {
	case fasthttp.StatusForbidden:
		log.Warn().Err(err).Str("remote", ctx.RemoteIP().String()).Msg("[STREAM] Rejected request path")
	case fasthttp.StatusInternalServerError:
		log.Error().Err(err).Msg("[STREAM] Failed to open media")
	}
	ctx.Error(fasthttp.StatusMessage(status), status)
}

// rangeReader streams one window of a file and closes it when fasthttp is
// done with the body, whether or not the window was fully sent.
//
// fasthttp calls both CloseWithError and Close on a body stream, so only the
// first call closes the file and records an abort.
type rangeReader struct {
	f         *os.File
	r         *io.SectionReader
	key       string
	remaining int64

	closeOnce sync.Once
	closeErr  error
}

func newRangeReader(f *os.File, key string, start, length int64) *rangeReader {
	return &rangeReader{
		f:         f,
		r:         io.NewSectionReader(f, start, length),
		key:       key,
		remaining: length,
	}
}

func (r *rangeReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.remaining -= int64(n)
	metrics.StreamBytesTotal.Add(float64(n))
	return n, err
}

func (r *rangeReader) Close() error {
	return r.CloseWithError(nil)
}

func (r *rangeReader) CloseWithError(cause error) error {
	r.closeOnce.Do(func() {
		if r.remaining > 0 {
			metrics.StreamAbortedTotal.Inc()
			log.Warn().
				AnErr("cause", cause).
				Str("key", r.key).
				Int64("remaining", r.remaining).
				Msg("[STREAM] Stream ended early")
		}
		r.closeErr = r.f.Close()
	})
	return r.closeErr
}
