//go:build windows

package pagefile

import "os"

// mmapFile has no portable memory-mapping primitive in the standard
// library on Windows; fall back to reading the whole file into a
// heap buffer. Pages are read-only after close, so this is behaviorally
// equivalent to the unix mmap path at the cost of one extra copy.
func mmapFile(f *os.File) ([]byte, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, nil
	}

	buf := make([]byte, fi.Size())
	if _, err := f.ReadAt(buf, 0); err != nil {
		return nil, err
	}

	return buf, nil
}

// munmapFile is a no-op on Windows since mmapFile never maps memory.
func munmapFile(data []byte) error {
	return nil
}
