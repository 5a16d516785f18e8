package fs

import (
	"fmt"
	"os"
	"path/filepath"
)

// CopyOrLinkFile either copies or hardlinks a file based on the link argument.
// Falls back to a copy if link fails and fallback is true.
func CopyOrLinkFile(from, to string, fromMode, toMode os.FileMode, link, fallback bool) error {
	if link {
		if (fromMode & os.ModeSymlink) != 0 {
			// Don't try to hard-link to a symlink, that doesn't work reliably across all platforms.
			// Instead recreate an equivalent symlink in the new location.
			dest, err := os.Readlink(from)
			if err != nil {
				return err
			}
			return os.Symlink(dest, to)
		}
		if err := os.Link(from, to); err == nil || !fallback {
			return err
		}
		// Linking would ignore toMode, using the same mode as the from file. Make the
		// fallback copy behave the same way.
		info, err := os.Lstat(from)
		if err != nil {
			return err
		}
		toMode = info.Mode()
	}
	return CopyFile(from, to, toMode)
}

// RecursiveCopy copies either a single file or a directory.
// 'mode' is the mode of the destination file.
func RecursiveCopy(from string, to string, mode os.FileMode) error {
	return RecursiveCopyOrLinkFile(from, to, mode, false, false)
}

// RecursiveLink hardlinks either a single file or a directory.
// Note that you can't hardlink directories so the behaviour is much the same as a recursive copy.
// If it can't link then it falls back to a copy.
func RecursiveLink(from string, to string) error {
	return RecursiveCopyOrLinkFile(from, to, 0, true, true)
}

// RecursiveCopyOrLinkFile recursively copies or links a file or directory.
// 'mode' is the mode of the destination file.
// If 'link' is true then we'll hardlink files instead of copying them.
// If 'fallback' is true then we'll fall back to a copy if linking fails.
func RecursiveCopyOrLinkFile(from string, to string, mode os.FileMode, link, fallback bool) error {
	info, err := os.Lstat(from)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return WalkMode(from, func(name string, isDir bool, fileMode os.FileMode) error {
			dest := filepath.Join(to, name[len(from):])
			if isDir {
				return os.MkdirAll(dest, DirPermissions)
			}
			if fileMode&os.ModeSymlink != 0 {
				return copySymlink(name, dest)
			}
			return CopyOrLinkFile(name, dest, fileMode, mode, link, fallback)
		})
	}
	return CopyOrLinkFile(from, to, info.Mode(), mode, link, fallback)
}

// copySymlink resolves the symlink and creates an equivalent symlink at dest.
func copySymlink(name, dest string) error {
	resolvedPath, err := os.Readlink(name)
	if err != nil {
		return err
	}
	return os.Symlink(resolvedPath, dest)
}

// LinkFunc is either Link or Symlink, parameterising the tree-walk below.
type LinkFunc func(string, string) error

// LinkIfNotExists walks src and creates dest as a link (via f) to each file, for any
// destination file that doesn't already exist.
func LinkIfNotExists(src, dest string, f LinkFunc) {
	Walk(src, func(name string, isDir bool) error {
		if !isDir {
			fullDest := filepath.Join(dest, name[len(src):])
			if err := EnsureDir(fullDest); err != nil {
				log.Warning("Failed to create directory for %s: %s", fullDest, err)
			} else if err := f(name, fullDest); err != nil && !os.IsExist(err) {
				log.Warning("Failed to create %s: %s", fullDest, err)
			}
		}
		return nil
	})
}

// Link creates dest as a hard link to src, replacing any existing dest so that stale
// hard links (e.g. left over from a previous incremental build) don't shadow new content.
func Link(src, dest string) error {
	if PathExists(dest) {
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("could not remove link %s: %w", dest, err)
		}
	}
	return os.Link(src, dest)
}

// Symlink creates dest as a symbolic link to src, skipping if the symlink already exists.
func Symlink(src, dest string) error {
	if !PathExists(src) {
		return fmt.Errorf("%s: %w", src, os.ErrNotExist)
	}
	if PathExists(dest) {
		fileInfo, err := os.Lstat(dest)
		if err != nil {
			return fmt.Errorf("could not lstat %s: %w", dest, err)
		}
		if fileInfo.Mode()&os.ModeSymlink == os.ModeSymlink {
			return nil
		}
		if err := os.Remove(dest); err != nil {
			return fmt.Errorf("could not remove link %s: %w", dest, err)
		}
	}
	return os.Symlink(src, dest)
}
