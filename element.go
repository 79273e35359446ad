package matroska

import (
	"fmt"
	"regexp"
	"time"
)

// ElementType identifies how an element's payload is interpreted.
type ElementType uint8

// Element payload types.
const (
	TypeUnknown ElementType = iota
	TypeUint
	TypeInt
	TypeFloat
	TypeDate
	TypeString
	TypeBinary
	TypeContainer
)

func (t ElementType) String() string {
	switch t {
	case TypeUint:
		return "uint"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeDate:
		return "date"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeContainer:
		return "container"
	default:
		return "unknown"
	}
}

// Element is one parsed node of the document tree: either a typed leaf or
// a container of further elements.
//
// Every element carries its placement metadata: Pos is the byte offset of
// the element header, DataPos the offset of the payload, Size the payload
// length, Level the depth below the root containers and Path the
// /-joined chain of ancestor names (with a trailing slash for
// containers). Parent and Root are non-owning back references.
type Element struct {
	Name    string
	Type    ElementType
	ID      uint32
	Pos     int64
	DataPos int64
	Size    int64
	Level   int
	Path    string
	Parent  *Element
	Root    *Element

	// Value holds the decoded payload of a leaf: uint64, int64, float64,
	// time.Time, string or []byte. Cooking may replace it with a
	// time.Duration or a symbolic string; the original then moves to
	// RawValue.
	Value    any
	RawValue any

	// DisplayString is a pre-formatted human-readable form, set by
	// cooking for values whose raw rendering is unhelpful.
	DisplayString string

	// Skipped is true when the payload was intentionally not read (or
	// only a prefix of it was).
	Skipped bool

	def      *elementDef
	children []*Element
	order    []string
	byName   map[string][]*Element
}

// append adds a child in document order and indexes it under its name.
func (el *Element) append(child *Element) {
	el.children = append(el.children, child)
	el.index(child.Name, child)
}

// index adds child under name without touching document order. Used for
// the secondary track-type index on Tracks.
func (el *Element) index(name string, child *Element) {
	if el.byName == nil {
		el.byName = make(map[string][]*Element)
	}
	if _, ok := el.byName[name]; !ok {
		el.order = append(el.order, name)
	}
	el.byName[name] = append(el.byName[name], child)
}

// Children returns the container's children in on-disk order.
func (el *Element) Children() []*Element {
	return el.children
}

// Names returns the distinct child names in insertion order.
func (el *Element) Names() []string {
	return el.order
}

// Child returns the first child with the given name, or nil.
func (el *Element) Child(name string) *Element {
	if list := el.byName[name]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// ChildList returns all children with the given name in on-disk order.
func (el *Element) ChildList(name string) []*Element {
	return el.byName[name]
}

// IsList reports whether name maps to a list in this container: either
// the schema declares the element as multiple, or more than one
// occurrence was observed.
func (el *Element) IsList(name string) bool {
	list := el.byName[name]
	if len(list) > 1 {
		return true
	}
	if len(list) == 1 && list[0].def != nil {
		return list[0].def.multiple
	}
	return false
}

// Get walks a chain of child names and returns the first match at each
// step, or nil if any step is missing.
func (el *Element) Get(names ...string) *Element {
	cur := el
	for _, name := range names {
		if cur = cur.Child(name); cur == nil {
			return nil
		}
	}
	return cur
}

// Uint returns the element value as an unsigned integer, or 0.
func (el *Element) Uint() uint64 {
	switch v := el.Value.(type) {
	case uint64:
		return v
	case int64:
		if v >= 0 {
			return uint64(v)
		}
	}
	if v, ok := el.RawValue.(uint64); ok {
		return v
	}
	return 0
}

// Int returns the element value as a signed integer, or 0.
func (el *Element) Int() int64 {
	switch v := el.Value.(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	}
	return 0
}

// Float returns the element value as a float, or 0.
func (el *Element) Float() float64 {
	switch v := el.Value.(type) {
	case float64:
		return v
	case uint64:
		return float64(v)
	case int64:
		return float64(v)
	}
	if v, ok := el.RawValue.(float64); ok {
		return v
	}
	return 0
}

// Str returns the element value as a string, or "".
func (el *Element) Str() string {
	if v, ok := el.Value.(string); ok {
		return v
	}
	return ""
}

// Bytes returns the element value as a byte slice, or nil.
func (el *Element) Bytes() []byte {
	if v, ok := el.Value.([]byte); ok {
		return v
	}
	return nil
}

// Time returns the element value as a wall-clock time, or the zero time.
func (el *Element) Time() time.Time {
	if v, ok := el.Value.(time.Time); ok {
		return v
	}
	return time.Time{}
}

// Span returns the element value as a time span, or 0. Cooked timecodes
// and durations carry their scaled value here.
func (el *Element) Span() time.Duration {
	if v, ok := el.Value.(time.Duration); ok {
		return v
	}
	return 0
}

// Find returns all descendants whose name matches the pattern, in
// document order.
func (el *Element) Find(pattern string) ([]*Element, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	var out []*Element
	el.walk(func(e *Element) {
		if re.MatchString(e.Name) {
			out = append(out, e)
		}
	})
	return out, nil
}

// Closest walks the parent chain upward (starting at the element itself)
// and returns the first element whose name matches, or nil.
func (el *Element) Closest(pattern string) (*Element, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	for e := el; e != nil; e = e.Parent {
		if re.MatchString(e.Name) {
			return e, nil
		}
	}
	return nil, nil
}

func (el *Element) walk(fn func(*Element)) {
	for _, child := range el.children {
		fn(child)
		child.walk(fn)
	}
}

// String renders a one-line summary of the element for diagnostics.
func (el *Element) String() string {
	if el.Type == TypeContainer {
		return fmt.Sprintf("%s (%d children)", el.Path, len(el.children))
	}
	if el.DisplayString != "" {
		return fmt.Sprintf("%s = %s", el.Path, el.DisplayString)
	}
	return fmt.Sprintf("%s = %v", el.Path, el.Value)
}
