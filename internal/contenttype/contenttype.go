// Package contenttype maps file extensions to the MIME types sent with media
// responses.
package contenttype

import (
	"path"
	"strings"
)

const Default = "application/octet-stream"

var byExtension = map[string]string{
	"mp4":  "video/mp4",
	"m4v":  "video/x-m4v",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"mpeg": "video/mpeg",
	"mpg":  "video/mpeg",
	"ts":   "video/mp2t",
	"m3u8": "application/vnd.apple.mpegurl",
	"mpd":  "application/dash+xml",
	"m4s":  "video/iso.segment",

	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"avif": "image/avif",
	"heic": "image/heic",

	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"aac":  "audio/aac",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"opus": "audio/opus",
}

// canonical extension per type, for the reverse lookup
var byType = map[string]string{
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/mpeg":      "mpeg",
	"image/jpeg":      "jpg",
	"image/tiff":      "tiff",
}

func init() {
	for ext, mime := range byExtension {
		if _, ok := byType[mime]; !ok {
			byType[mime] = ext
		}
	}
}

// Resolve returns the MIME type for ext. The lookup ignores case and a
// leading dot. Unknown extensions resolve to Default.
func Resolve(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if mime, ok := byExtension[ext]; ok {
		return mime
	}
	return Default
}

func ForFilename(name string) string {
	return Resolve(path.Ext(name))
}

// Extension returns the canonical extension (without dot) for a MIME type,
// or "bin" when the type is unknown.
func Extension(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if ext, ok := byType[mime]; ok {
		return ext
	}
	return "bin"
}
