//go:build !windows

package pagefile

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps the whole of an open, read-only file into memory.
func mmapFile(f *os.File) ([]byte, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, nil
	}

	return unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_SHARED)
}

// munmapFile releases a mapping obtained from mmapFile.
func munmapFile(data []byte) error {
	if data == nil {
		return nil
	}

	return unix.Munmap(data)
}
