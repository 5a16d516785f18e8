package fs

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// boolTrueHashValue is written into a hash when we need to record a boolean without
// ambiguity against file content.
var boolTrueHashValue = []byte{2}

// A PathHasher hashes paths and memoises the results so that repeated lookups of the
// same path (for example re-evaluating several rules that share a source file) don't
// re-read it from disk. core.BuildContext carries one as its Hasher; the dependency
// database and the file cache do not use it.
type PathHasher struct {
	memo  map[string]uint64
	mutex sync.RWMutex
	root  string
}

// NewPathHasher returns a new PathHasher based on the given root directory; paths under
// root are memoised relative to it so the cache remains useful regardless of whether
// callers pass absolute or root-relative paths.
func NewPathHasher(root string) *PathHasher {
	return &PathHasher{
		memo: map[string]uint64{},
		root: root,
	}
}

// Hash hashes a single path, which may be a file, a directory (hashed recursively) or a
// symlink. It is memoised and will only hash each path once unless recalc is true.
func (hasher *PathHasher) Hash(path string, recalc bool) (uint64, error) {
	path = hasher.ensureRelative(path)
	if !recalc {
		hasher.mutex.RLock()
		cached, present := hasher.memo[path]
		hasher.mutex.RUnlock()
		if present {
			return cached, nil
		}
	}
	result, err := hasher.hash(path)
	if err == nil {
		hasher.mutex.Lock()
		hasher.memo[path] = result
		hasher.mutex.Unlock()
	}
	return result, err
}

// MustHash is as Hash but panics on error.
func (hasher *PathHasher) MustHash(path string) uint64 {
	h, err := hasher.Hash(path, false)
	if err != nil {
		panic(err)
	}
	return h
}

// MoveHash is used when a path is renamed (e.g. a recipe moving output from a temporary
// directory into its final location); that's the one case where a memoised hash needs to
// follow its path rather than be recomputed. keepOld retains the old entry too, which is
// appropriate when the move was actually a copy.
func (hasher *PathHasher) MoveHash(oldPath, newPath string, keepOld bool) {
	oldPath = hasher.ensureRelative(oldPath)
	newPath = hasher.ensureRelative(newPath)
	hasher.mutex.Lock()
	defer hasher.mutex.Unlock()
	if h, present := hasher.memo[oldPath]; present {
		hasher.memo[newPath] = h
		if !keepOld {
			delete(hasher.memo, oldPath)
		}
	}
}

func (hasher *PathHasher) hash(path string) (uint64, error) {
	h := xxhash.New()
	info, err := os.Lstat(path)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		dest, err := os.Readlink(path)
		if err != nil {
			return 0, err
		}
		// Write something arbitrary indicating this is a symlink, so it can't collide
		// with a regular file that happens to have the link's target as its contents.
		h.Write(boolTrueHashValue)
		h.Write([]byte(dest))
		return h.Sum64(), nil
	} else if err == nil && info.IsDir() {
		err = WalkMode(path, func(p string, isDir bool, mode os.FileMode) error {
			if mode&os.ModeSymlink != 0 {
				h.Write(boolTrueHashValue)
				return nil
			} else if !isDir {
				return hasher.fileHash(h, p)
			}
			return nil
		})
	} else {
		err = hasher.fileHash(h, path)
	}
	return h.Sum64(), err
}

func (hasher *PathHasher) fileHash(h *xxhash.Digest, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(h, file)
	file.Close()
	return err
}

// ensureRelative ensures a path is relative to the hasher's root, which is what makes
// memoisation effective regardless of how callers spell the same path.
func (hasher *PathHasher) ensureRelative(path string) string {
	if strings.HasPrefix(path, hasher.root) {
		return strings.TrimLeft(strings.TrimPrefix(path, hasher.root), "/")
	}
	return path
}
