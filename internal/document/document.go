// Package document holds the structured artifact model and the two operations
// that combine or partition artifacts: Merger and Splitter.
//
// A document has exactly one container root. Its top-level children are
// content nodes; those tagged constants.ItemTag are items, and an item whose
// type attribute is constants.CategoryType is a structural category marker
// rather than data.
package document

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/beevik/etree"

	"github.com/joseph-ayodele/docbatch/constants"
	"github.com/joseph-ayodele/docbatch/internal/common"
)

var (
	errNoRoot    = errors.New("no root element")
	errManyRoots = errors.New("more than one root element")
)

// Document is a parsed structured artifact.
type Document struct {
	Path string
	tree *etree.Document
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.ParseError(path, err)
	}
	return Parse(path, data)
}

// Parse parses data; name is used for error messages and chunk naming.
func Parse(name string, data []byte) (*Document, error) {
	tree := etree.NewDocument()
	if err := tree.ReadFromBytes(data); err != nil {
		return nil, common.ParseError(name, err)
	}
	roots := 0
	for _, tok := range tree.Child {
		if _, ok := tok.(*etree.Element); ok {
			roots++
		}
	}
	switch {
	case roots == 0:
		return nil, common.ParseError(name, errNoRoot)
	case roots > 1:
		return nil, common.ParseError(name, errManyRoots)
	}
	return &Document{Path: name, tree: tree}, nil
}

// New wraps root in a fresh document. root is detached from any previous parent.
func New(name string, root *etree.Element) *Document {
	tree := etree.NewDocument()
	tree.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	tree.SetRoot(root)
	return &Document{Path: name, tree: tree}
}

// Root returns the container element.
func (d *Document) Root() *etree.Element {
	return d.tree.Root()
}

// Items returns the data items (category markers excluded) in document order.
func (d *Document) Items() []*etree.Element {
	return dataItems(d.Root())
}

// ItemCount counts every item child, category markers included.
func (d *Document) ItemCount() int {
	n := 0
	for _, el := range d.Root().ChildElements() {
		if IsItem(el) {
			n++
		}
	}
	return n
}

// Size returns the serialized size of the document in bytes.
func (d *Document) Size() (int64, error) {
	return d.tree.WriteTo(io.Discard)
}

// Bytes serializes the document.
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := d.tree.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// IsItem reports whether el is an item-kind content node.
func IsItem(el *etree.Element) bool {
	return el.Tag == constants.ItemTag
}

// IsCategory reports whether el is a category marker. Items without a type
// attribute count as data.
func IsCategory(el *etree.Element) bool {
	return IsItem(el) && el.SelectAttrValue(constants.TypeAttr, "") == constants.CategoryType
}

// IsData reports whether el is an item that carries data.
func IsData(el *etree.Element) bool {
	return IsItem(el) && !IsCategory(el)
}

func dataItems(root *etree.Element) []*etree.Element {
	var out []*etree.Element
	for _, el := range root.ChildElements() {
		if IsData(el) {
			out = append(out, el)
		}
	}
	return out
}

// WriteFile serializes root with an XML declaration to path. The bytes go to a
// temporary sibling first and are renamed into place, so a failed write never
// leaves a truncated document behind.
func WriteFile(path string, root *etree.Element) (int64, error) {
	doc := New(path, root)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".docbatch-*.partial")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	fail := func(err error) (int64, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, err
	}

	w := bufio.NewWriter(tmp)
	n, err := doc.tree.WriteTo(w)
	if err != nil {
		return fail(err)
	}
	if err := w.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}
