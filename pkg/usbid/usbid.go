package usbid

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
	"/usr/local/share/hwdata/usb.ids",
}

// classKey names a class, subclass or protocol entry; a level the entry
// does not reach is anyCode.
type classKey struct{ class, subClass, protocol uint16 }

const anyCode = 0xFFFF

// Database caches the vendor, product and class names of usb.ids.
type Database struct {
	mu       sync.RWMutex
	paths    []string
	loaded   bool
	found    bool
	vendors  map[uint16]string
	products map[uint32]string
	classes  map[classKey]string
}

// New returns a database searching DefaultPaths.
func New() *Database { return NewWithPaths(DefaultPaths) }

// NewWithPaths returns a database searching paths in order.
func NewWithPaths(paths []string) *Database {
	return &Database{
		paths:    paths,
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[classKey]string),
	}
}

// Load parses the first readable file among the search paths. Later calls
// do nothing. It reports whether a file was found.
func (db *Database) Load() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.loaded {
		return db.found
	}
	db.loaded = true
	for _, path := range db.paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		err = db.parse(f)
		f.Close()
		db.found = err == nil
		return db.found
	}
	return false
}

// LoadFrom parses r in usb.ids format, merging into the database.
func (db *Database) LoadFrom(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.loaded = true
	if err := db.parse(r); err != nil {
		return err
	}
	db.found = true
	return nil
}

// splitEntry splits "xxxx  name" into its hex code and name.
func splitEntry(line string, digits int) (uint16, string, bool) {
	if len(line) < digits+2 || line[digits] != ' ' {
		return 0, "", false
	}
	code, err := strconv.ParseUint(line[:digits], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(code), strings.TrimLeft(line[digits:], " "), true
}

func (db *Database) parse(r io.Reader) error {
	const (
		sectionNone = iota
		sectionVendor
		sectionClass
	)
	section := sectionNone
	var vid, class, sub uint16

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		depth := 0
		for depth < len(line) && line[depth] == '\t' {
			depth++
		}
		body := line[depth:]

		switch {
		case depth == 0 && strings.HasPrefix(body, "C "):
			code, name, ok := splitEntry(body[2:], 2)
			if !ok {
				section = sectionNone
				continue
			}
			section, class = sectionClass, code
			db.classes[classKey{class, anyCode, anyCode}] = name
		case depth == 0:
			code, name, ok := splitEntry(body, 4)
			if !ok {
				// Other top-level lists (AT, HID, L, ...) end the vendor list.
				section = sectionNone
				continue
			}
			section, vid = sectionVendor, code
			db.vendors[vid] = name
		case section == sectionVendor && depth == 1:
			if pid, name, ok := splitEntry(body, 4); ok {
				db.products[uint32(vid)<<16|uint32(pid)] = name
			}
		case section == sectionClass && depth == 1:
			if code, name, ok := splitEntry(body, 2); ok {
				sub = code
				db.classes[classKey{class, sub, anyCode}] = name
			}
		case section == sectionClass && depth == 2:
			if code, name, ok := splitEntry(body, 2); ok {
				db.classes[classKey{class, sub, code}] = name
			}
		}
	}
	return scanner.Err()
}

// Vendor returns the name of vendor vid.
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the name of product pid of vendor vid.
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Class returns the most specific name known for the class triple: the
// protocol name, else the subclass name, else the class name.
func (db *Database) Class(class, subClass, protocol uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	c, s, p := uint16(class), uint16(subClass), uint16(protocol)
	for _, k := range [...]classKey{{c, s, p}, {c, s, anyCode}, {c, anyCode, anyCode}} {
		if name, ok := db.classes[k]; ok {
			return name
		}
	}
	return ""
}

// IsLoaded reports whether a load was attempted.
func (db *Database) IsLoaded() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.loaded
}

// VendorCount returns the number of vendors known.
func (db *Database) VendorCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors)
}

// ProductCount returns the number of products known.
func (db *Database) ProductCount() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.products)
}
