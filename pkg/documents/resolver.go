package documents

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"order-mailer/pkg/order"
)

// fileName matches "PEDIDO 0000123.pdf" and "PEDIDO 0000123_3.pdf".
var fileName = regexp.MustCompile(`^PEDIDO (\d{7,})(?:_(\d+))?\.(?i:pdf)$`)

// Index maps order numbers to their newest document in one directory listing.
type Index map[int64]order.Document

// Resolver finds order documents in a directory.
type Resolver struct {
	dir string
}

func NewResolver(dir string) *Resolver {
	return &Resolver{dir: dir}
}

func (r *Resolver) Dir() string {
	return r.dir
}

// Scan lists the directory once and keeps the highest version per order.
// When two files parse to the same version the lexicographically greatest
// name wins.
func (r *Resolver) Scan() (Index, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list document directory %s: %w", r.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	idx := Index{}
	for _, name := range names {
		number, version, ok := ParseName(name)
		if !ok {
			continue
		}
		if cur, seen := idx[number]; seen && version < cur.Version {
			continue
		}
		idx[number] = order.Document{Path: filepath.Join(r.dir, name), Version: version}
	}
	return idx, nil
}

// Resolve returns the newest document for one order. Version is 1 and ok is
// false when no file matches.
func (r *Resolver) Resolve(orderNumber int64) (doc order.Document, ok bool, err error) {
	idx, err := r.Scan()
	if err != nil {
		return order.Document{Version: 1}, false, err
	}
	doc, ok = idx.Lookup(orderNumber)
	return doc, ok, nil
}

// Lookup returns the indexed document for an order.
func (idx Index) Lookup(orderNumber int64) (order.Document, bool) {
	doc, ok := idx[orderNumber]
	if !ok {
		return order.Document{Version: 1}, false
	}
	return doc, true
}

// ParseName extracts the order number and version from a document file name.
// A missing suffix means version 1; a zero suffix is rejected.
func ParseName(name string) (number int64, version int, ok bool) {
	m := fileName.FindStringSubmatch(name)
	if m == nil {
		return 0, 0, false
	}
	number, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || order.PaddedNumber(number) != m[1] {
		return 0, 0, false
	}
	version = 1
	if m[2] != "" {
		version, err = strconv.Atoi(m[2])
		if err != nil || version < 1 {
			return 0, 0, false
		}
	}
	return number, version, true
}
