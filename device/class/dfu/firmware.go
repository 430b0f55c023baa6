package dfu

import (
	"sync"

	"github.com/ardnew/usbfunc/pkg"
)

// Firmware is the image store programmed in DFU mode. Errors that are a
// Status are reported to the host as that status; any other error is
// reported as StatusErrUnknown.
type Firmware interface {
	// Download stores block of the image being downloaded. Block numbers
	// start at 0 for each download and wrap at 65535.
	Download(block uint16, data []byte) error
	// Manifest completes the download after its final block.
	Manifest() error
	// Upload reads block of the current image into buf. A count below
	// len(buf) ends the upload.
	Upload(block uint16, buf []byte) (int, error)
}

// MemoryFirmware is a Firmware held in memory. Downloads stage into a
// scratch image that replaces the current one when manifested.
type MemoryFirmware struct {
	mutex     sync.Mutex
	image     []byte
	staging   []byte
	blockSize int
	limit     int
}

var _ Firmware = (*MemoryFirmware)(nil)

// NewMemoryFirmware creates a store holding image with downloads and
// uploads split into blockSize blocks and images limited to limit bytes.
func NewMemoryFirmware(image []byte, blockSize, limit int) *MemoryFirmware {
	return &MemoryFirmware{
		image:     append([]byte(nil), image...),
		blockSize: blockSize,
		limit:     limit,
	}
}

// Image returns the current image.
func (m *MemoryFirmware) Image() []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]byte(nil), m.image...)
}

func (m *MemoryFirmware) Download(block uint16, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if block == 0 {
		m.staging = m.staging[:0]
	}
	off := int(block) * m.blockSize
	if off != len(m.staging) {
		return StatusErrAddress
	}
	if off+len(data) > m.limit {
		return StatusErrAddress
	}
	m.staging = append(m.staging, data...)
	return nil
}

func (m *MemoryFirmware) Manifest() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if len(m.staging) == 0 {
		return StatusErrNotDone
	}
	m.image = append(m.image[:0], m.staging...)
	m.staging = m.staging[:0]
	return nil
}

func (m *MemoryFirmware) Upload(block uint16, buf []byte) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.blockSize <= 0 {
		return 0, pkg.ErrInvalidState
	}
	off := int(block) * m.blockSize
	if off >= len(m.image) {
		return 0, nil
	}
	return copy(buf, m.image[off:]), nil
}
