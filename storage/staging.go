package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// NewStagingFs confines staged file reads to root on the OS filesystem.
func NewStagingFs(root string) (fs afero.Fs, err error) {
	if root == "" {
		err = fmt.Errorf("%w: missing staging root", ErrInvalidConfig)
		return
	}
	if root, err = filepath.Abs(root); err != nil {
		return
	}
	osFs := afero.NewOsFs()
	if err = osFs.MkdirAll(root, os.ModePerm); err != nil {
		return
	}
	fs = afero.NewBasePathFs(osFs, root)
	return
}

// openStaged opens a staged file by its path under the staging root.
// Absolute paths and paths that climb out with ".." are refused.
func openStaged(staging afero.Fs, name string) (f afero.File, err error) {
	if !filepath.IsLocal(name) {
		err = fmt.Errorf("%w: %q", ErrInvalidPath, name)
		return
	}
	return staging.Open(name)
}
