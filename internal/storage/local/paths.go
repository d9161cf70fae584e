package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/stardrive/stardrive/internal/storage"
)

// maxLinkHops bounds symlink chains followed while resolving a path.
const maxLinkHops = 40

// resolve maps a caller path onto the canonical absolute path under root.
// root must already be canonical. Targets that do not exist yet resolve
// through their longest existing prefix.
func resolve(root, p string) (string, error) {
	if strings.IndexByte(p, 0) >= 0 {
		return "", storage.NewError("resolve", p, storage.ErrPathParse, errors.New("path contains NUL byte"))
	}

	rel := strings.TrimLeft(filepath.FromSlash(p), string(filepath.Separator)+"/")
	if filepath.VolumeName(rel) != "" {
		return "", storage.NewError("resolve", p, storage.ErrPathTraversal, nil)
	}

	abs, err := evalExisting(filepath.Join(root, rel))
	if err != nil {
		return "", storage.NewError("resolve", p, storage.ErrPathParse, err)
	}
	if !within(root, abs) {
		return "", storage.NewError("resolve", p, storage.ErrPathTraversal, nil)
	}
	return abs, nil
}

// evalExisting resolves symlinks in the longest existing prefix of p and
// appends the remaining components unchanged. Dangling links are followed
// by hand so a write through one cannot land outside the root unnoticed.
func evalExisting(p string) (string, error) {
	var rest []string
	cur := p
	for hops := 0; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return "", err
		}

		if fi, lerr := os.Lstat(cur); lerr == nil && fi.Mode()&fs.ModeSymlink != 0 {
			if hops++; hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links: %s", p)
			}
			target, rerr := os.Readlink(cur)
			if rerr != nil {
				return "", rerr
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(cur), target)
			}
			cur = filepath.Clean(target)
			continue
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return "", err
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// within reports whether p is root or below it.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// relPath returns the slash separated path of abs relative to root.
func relPath(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// canonicalRoot makes root absolute and resolves its symlinks.
func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}
