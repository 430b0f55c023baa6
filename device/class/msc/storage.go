package msc

import (
	"io"
	"os"
	"sync"

	"github.com/ardnew/usbfunc/pkg"
)

// Storage is the block device behind a logical unit. Offsets passed to
// ReadAt and WriteAt are block aligned and transfers are whole blocks.
type Storage interface {
	io.ReaderAt
	io.WriterAt

	BlockSize() uint32
	BlockCount() uint64
	ReadOnly() bool
}

// Syncer is implemented by storage that caches writes.
type Syncer interface {
	Sync() error
}

// Medium is implemented by storage with removable media.
type Medium interface {
	Removable() bool
	Present() bool
	Eject() error
}

// MemoryStorage is a RAM disk.
type MemoryStorage struct {
	mutex     sync.RWMutex
	data      []byte
	blockSize uint32
	readOnly  bool
	removable bool
	present   bool
}

var (
	_ Storage = (*MemoryStorage)(nil)
	_ Medium  = (*MemoryStorage)(nil)
)

// NewMemoryStorage creates a zeroed RAM disk of blocks blocks.
func NewMemoryStorage(blocks uint64, blockSize uint32) *MemoryStorage {
	return &MemoryStorage{
		data:      make([]byte, blocks*uint64(blockSize)),
		blockSize: blockSize,
		present:   true,
	}
}

func (m *MemoryStorage) BlockSize() uint32 { return m.blockSize }

func (m *MemoryStorage) BlockCount() uint64 {
	return uint64(len(m.data)) / uint64(m.blockSize)
}

func (m *MemoryStorage) ReadAt(p []byte, off int64) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if !m.present {
		return 0, pkg.ErrNotPresent
	}
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	switch {
	case !m.present:
		return 0, pkg.ErrNotPresent
	case m.readOnly:
		return 0, os.ErrPermission
	case off < 0 || off+int64(len(p)) > int64(len(m.data)):
		return 0, pkg.ErrInvalidArgument
	}
	return copy(m.data[off:], p), nil
}

func (m *MemoryStorage) ReadOnly() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.readOnly
}

// SetReadOnly sets write protection.
func (m *MemoryStorage) SetReadOnly(readOnly bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.readOnly = readOnly
}

func (m *MemoryStorage) Removable() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.removable
}

// SetRemovable marks the medium removable.
func (m *MemoryStorage) SetRemovable(removable bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.removable = removable
}

func (m *MemoryStorage) Present() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.present
}

// Eject removes a removable medium; its contents are kept for Insert.
func (m *MemoryStorage) Eject() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.removable {
		return pkg.ErrNotSupported
	}
	m.present = false
	return nil
}

// Insert makes an ejected medium present again.
func (m *MemoryStorage) Insert() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.present = true
}

// FileStorage is a disk image file. The image size is fixed when it is
// opened; trailing bytes short of a block are not addressable.
type FileStorage struct {
	file      *os.File
	blockSize uint32
	blocks    uint64
	readOnly  bool
}

var (
	_ Storage = (*FileStorage)(nil)
	_ Syncer  = (*FileStorage)(nil)
)

// OpenFileStorage opens the image at path.
func OpenFileStorage(path string, blockSize uint32, readOnly bool) (*FileStorage, error) {
	if blockSize == 0 {
		return nil, pkg.ErrInvalidArgument
	}
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &FileStorage{
		file:      file,
		blockSize: blockSize,
		blocks:    uint64(info.Size()) / uint64(blockSize),
		readOnly:  readOnly,
	}, nil
}

func (f *FileStorage) BlockSize() uint32  { return f.blockSize }
func (f *FileStorage) BlockCount() uint64 { return f.blocks }
func (f *FileStorage) ReadOnly() bool     { return f.readOnly }

func (f *FileStorage) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

func (f *FileStorage) WriteAt(p []byte, off int64) (int, error) {
	if f.readOnly {
		return 0, os.ErrPermission
	}
	if off < 0 || uint64(off)+uint64(len(p)) > f.blocks*uint64(f.blockSize) {
		return 0, pkg.ErrInvalidArgument
	}
	return f.file.WriteAt(p, off)
}

func (f *FileStorage) Sync() error {
	if f.readOnly {
		return nil
	}
	return f.file.Sync()
}

// Close closes the image file.
func (f *FileStorage) Close() error { return f.file.Close() }
