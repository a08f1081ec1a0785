package suncloud

import (
	"os"
	"path/filepath"
)

type filesystemManagement interface {
	writeCacheFile(path string, data []byte) error
}

type fileManagement struct{}

func (fs *fileManagement) writeCacheFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}
