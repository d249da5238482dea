// Package assetkey builds and validates the canonical relative paths under
// which asset bytes are stored:
//
//	tenants/{tenantID}/projects/{projectID}/{assetID}/{variant}.{ext}
//
// Every inbound request path and every storage key is resolved through
// Resolve before it touches the filesystem. Resolution fails closed.
package assetkey

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/prappser/prappser_media/internal/mediaerr"
)

const (
	VariantSource    = "source"
	VariantThumbnail = "thumbnail"
)

var (
	idPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	extPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,16}$`)
)

// ValidID reports whether s may be used as a tenant, project or asset id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Build returns the canonical key for a variant of an asset.
func Build(tenantID, projectID, assetID, variant, ext string) (string, error) {
	for _, id := range []string{tenantID, projectID, assetID, variant} {
		if !idPattern.MatchString(id) {
			return "", fmt.Errorf("%w: invalid key component %q", mediaerr.ErrPathTraversal, id)
		}
	}
	ext = strings.TrimPrefix(ext, ".")
	if !extPattern.MatchString(ext) {
		return "", fmt.Errorf("%w: invalid extension %q", mediaerr.ErrPathTraversal, ext)
	}
	return fmt.Sprintf("tenants/%s/projects/%s/%s/%s.%s", tenantID, projectID, assetID, variant, strings.ToLower(ext)), nil
}

// FromRequestPath maps the raw (undecoded) remainder of a media URL,
// "{tenant}/{project}/{asset}/{variant}.{ext}", onto its storage key.
// Percent-encoded input is rejected outright since no valid key needs it.
func FromRequestPath(raw string) (string, error) {
	if strings.ContainsAny(raw, "%\\\x00") {
		return "", fmt.Errorf("%w: encoded or escaped characters in %q", mediaerr.ErrPathTraversal, raw)
	}
	parts := strings.Split(raw, "/")
	if len(parts) != 4 {
		return "", fmt.Errorf("%w: expected tenant/project/asset/variant, got %q", mediaerr.ErrPathTraversal, raw)
	}
	file := parts[3]
	dot := strings.LastIndex(file, ".")
	if dot <= 0 {
		return "", fmt.Errorf("%w: variant %q has no extension", mediaerr.ErrPathTraversal, file)
	}
	return Build(parts[0], parts[1], parts[2], file[:dot], file[dot+1:])
}

// Validate reports whether path resolves to a location strictly inside rootDir.
func Validate(path, rootDir string) bool {
	_, err := Resolve(rootDir, path)
	return err == nil
}

// Resolve returns the absolute filesystem location of key under rootDir.
// The key may be relative to rootDir or absolute; either way it must not
// contain empty, "." or ".." segments, backslashes, NUL bytes or percent
// signs, and no existing component below the root may be a symlink.
func Resolve(rootDir, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty path", mediaerr.ErrPathTraversal)
	}
	if strings.ContainsAny(key, "%\\\x00") {
		return "", fmt.Errorf("%w: escaped characters in %q", mediaerr.ErrPathTraversal, key)
	}

	rootAbs, err := filepath.Abs(rootDir)
	if err != nil {
		return "", fmt.Errorf("%w: root %q: %v", mediaerr.ErrPathTraversal, rootDir, err)
	}
	rootReal, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return "", fmt.Errorf("%w: root %q: %v", mediaerr.ErrPathTraversal, rootDir, err)
	}

	rel := key
	if filepath.IsAbs(key) {
		if strings.Contains(key, "//") || strings.HasSuffix(key, "/") {
			return "", fmt.Errorf("%w: empty segment in %q", mediaerr.ErrPathTraversal, key)
		}
		r, err := relativeTo(rootAbs, key)
		if err != nil {
			r, err = relativeTo(rootReal, key)
		}
		if err != nil {
			return "", err
		}
		rel = r
	}

	for _, seg := range strings.Split(rel, "/") {
		switch seg {
		case "", ".", "..":
			return "", fmt.Errorf("%w: segment %q in %q", mediaerr.ErrPathTraversal, seg, key)
		}
	}

	full := filepath.Join(rootReal, filepath.FromSlash(rel))
	if !within(rootReal, full) {
		return "", fmt.Errorf("%w: %q escapes root", mediaerr.ErrPathTraversal, key)
	}
	if err := rejectSymlinks(rootReal, rel); err != nil {
		return "", err
	}
	return full, nil
}

func relativeTo(root, abs string) (string, error) {
	for _, seg := range strings.Split(abs, "/")[1:] {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("%w: segment %q in %q", mediaerr.ErrPathTraversal, seg, abs)
		}
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q is outside root", mediaerr.ErrPathTraversal, abs)
	}
	return filepath.ToSlash(rel), nil
}

func within(root, full string) bool {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return false
	}
	return rel != "." && filepath.IsLocal(rel)
}

func rejectSymlinks(root, rel string) error {
	cur := root
	for _, seg := range strings.Split(rel, "/") {
		cur = filepath.Join(cur, seg)
		fi, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: lstat %q: %v", mediaerr.ErrPathTraversal, cur, err)
		}
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: symlink at %q", mediaerr.ErrPathTraversal, cur)
		}
	}
	return nil
}
