package image

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maximecb/zetavm/vm"
	"github.com/tliron/commonlog"
)

// Loader resolves package names to package objects. It implements
// vm.Importer; all caching lives here, both the in-memory memo and the
// optional on-disk cache, never in the interpreter.
type Loader struct {
	searchDirs []string
	cache      *Cache
	pkgs       map[string]vm.Value

	log commonlog.Logger
}

// NewLoader creates a loader over the given package search
// directories. The on-disk cache may be nil.
func NewLoader(searchDirs []string, cache *Cache) *Loader {
	return &Loader{
		searchDirs: searchDirs,
		cache:      cache,
		pkgs:       make(map[string]vm.Value),
		log:        commonlog.GetLogger("zetavm.image"),
	}
}

// Import resolves a package name to its package object, loading it on
// first use.
func (l *Loader) Import(pkgName string) (vm.Value, error) {
	if pkg, ok := l.pkgs[pkgName]; ok {
		return pkg, nil
	}

	path, err := l.resolve(pkgName)
	if err != nil {
		return vm.Undef, err
	}

	pkg, err := l.LoadFile(path)
	if err != nil {
		return vm.Undef, err
	}

	l.pkgs[pkgName] = pkg
	return pkg, nil
}

// resolve maps a package name to a file path. A name that is already a
// path (ends in .zim or contains a separator) is used as is; otherwise
// the search directories are probed for <dir>/<name>.zim.
func (l *Loader) resolve(pkgName string) (string, error) {
	if strings.HasSuffix(pkgName, ".zim") || strings.ContainsRune(pkgName, os.PathSeparator) {
		return pkgName, nil
	}

	for _, dir := range l.searchDirs {
		path := filepath.Join(dir, pkgName+".zim")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("package %q not found in %v", pkgName, l.searchDirs)
}

// LoadFile loads a package image from a file, consulting the on-disk
// cache when one is configured.
func (l *Loader) LoadFile(path string) (vm.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return vm.Undef, fmt.Errorf("reading image %q: %w", path, err)
	}

	sum := sha256.Sum256(src)

	if l.cache != nil {
		blob, ok, err := l.cache.Get(sum)
		if err != nil {
			l.log.Warningf("package cache read failed: %v", err)
		} else if ok {
			l.log.Debugf("loading %q from package cache", path)
			pkg, err := DecodeImage(blob)
			if err == nil {
				return pkg, nil
			}
			// A corrupt entry falls through to a fresh parse
			l.log.Warningf("cached image for %q is invalid: %v", path, err)
		}
	}

	l.log.Infof("loading image %q", path)
	pkg, err := Parse(path, string(src))
	if err != nil {
		return vm.Undef, err
	}

	if l.cache != nil {
		if blob, err := EncodeImage(pkg); err == nil {
			if err := l.cache.Put(sum, blob); err != nil {
				l.log.Warningf("package cache write failed: %v", err)
			}
		} else {
			l.log.Warningf("image %q not cacheable: %v", path, err)
		}
	}

	return pkg, nil
}
