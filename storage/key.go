package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Layout decides whether keys are flat or bucketed by upload date.
type Layout string

const (
	LayoutFlat   Layout = "flat"
	LayoutByDate Layout = "byDate"
)

func ParseLayout(s string) (l Layout, err error) {
	switch s {
	case "", string(LayoutFlat):
		l = LayoutFlat
	case string(LayoutByDate):
		l = LayoutByDate
	default:
		err = fmt.Errorf("%w: %q", ErrInvalidLayout, s)
	}
	return
}

type keyGenerator struct {
	prefix string
	layout Layout
	// streamTimestamp adds the upload time to stream keys as well.
	streamTimestamp bool
	now             func() time.Time
}

func newKeyGenerator(prefix string, layout Layout, streamTimestamp bool) *keyGenerator {
	if prefix != "" {
		prefix += "/"
	}
	if layout == "" {
		layout = LayoutFlat
	}
	return &keyGenerator{prefix: prefix, layout: layout, streamTimestamp: streamTimestamp, now: time.Now}
}

// fileKey returns <prefix>/<date/>name-<unix ms><ext>. ext keeps its dot.
func (g *keyGenerator) fileKey(name, ext string) string {
	now := g.now()
	return g.prefix + g.dateDir(now) + name + "-" + strconv.FormatInt(now.UnixMilli(), 10) + ext
}

// streamKey returns <prefix>/<date/>name.ext, the name being trusted as unique
// unless streamTimestamp is set.
func (g *keyGenerator) streamKey(name, ext string) string {
	ext = dotExt(ext)
	if g.streamTimestamp {
		return g.fileKey(name, ext)
	}
	return g.prefix + g.dateDir(g.now()) + name + ext
}

func (g *keyGenerator) dateDir(t time.Time) string {
	if g.layout != LayoutByDate {
		return ""
	}
	return t.Format("2006/01/02") + "/"
}

// splitFilename separates a file name into base name and extension, the way
// "photo.tar.gz" becomes "photo.tar" and ".gz". Dot files have no extension.
func splitFilename(filename string) (name, ext string) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		return "", ""
	}
	ext = filepath.Ext(base)
	if ext == base {
		ext = ""
	}
	name = strings.TrimSuffix(base, ext)
	return
}
