package zip

import (
	"io"
	"os"
	"path/filepath"
)

// Extract writes every entry into dir, which must already exist.
//
// Entries are processed in directory order. Directories are created ahead
// of their children; symlinks are deferred to a second pass so that a
// symlink is never traversed into while extracting a later entry (a classic
// traversal vector). Permissions and modification times are applied in a
// final pass, walking entries in reverse directory order, so that making a
// parent directory read-only never blocks writing to its own children
// first.
func (z *Reader) Extract(dir string) error {
	type placed struct {
		path string
		fh   *FileHeader
	}
	var (
		symlinks []placed
		applied  []placed
	)

	for _, fh := range z.File {
		rel, ok := sanitizeExtractPath(fh.Name)
		if !ok || rel == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(rel))

		mode := fh.Mode()
		switch {
		case mode&os.ModeSymlink != 0:
			symlinks = append(symlinks, placed{target, fh})
			continue
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o777); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o777); err != nil {
				return err
			}
			if err := extractFile(z, fh, target); err != nil {
				return err
			}
		}
		applied = append(applied, placed{target, fh})
	}

	for _, s := range symlinks {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o777); err != nil {
			return err
		}
		if err := extractSymlink(z, s.fh, s.path); err != nil {
			return err
		}
		applied = append(applied, s)
	}

	for i := len(applied) - 1; i >= 0; i-- {
		p := applied[i]
		if p.fh.Mode()&os.ModeSymlink != 0 {
			continue
		}
		if err := os.Chmod(p.path, p.fh.Mode().Perm()); err != nil {
			return err
		}
		if !p.fh.Modified.IsZero() {
			if err := os.Chtimes(p.path, p.fh.Modified, p.fh.Modified); err != nil {
				return err
			}
		}
	}
	return nil
}

func extractFile(z *Reader, fh *FileHeader, target string) error {
	r, err := z.Open(fh)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fh.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}

// extractSymlink materializes a symlink entry, whose decompressed payload
// is the link target text. If the platform rejects symlink creation (no
// privilege, or no support at all), the link is written out as a regular
// file containing the target string instead.
func extractSymlink(z *Reader, fh *FileHeader, target string) error {
	r, err := z.Open(fh)
	if err != nil {
		return err
	}
	linkTarget, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Symlink(string(linkTarget), target); err == nil {
		return nil
	}
	return os.WriteFile(target, linkTarget, 0o644)
}
