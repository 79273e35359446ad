// Package matroska parses Matroska and WebM container files into an
// in-memory tree of typed elements for programmatic inspection.
//
// The parser is selective: the payload-bearing Cluster sections that
// make up the bulk of a file are skipped by default, and trailing
// metadata sections (Tags, Cues) are reached through the SeekHead
// directory or, when none exists, a bounded backward scan of the
// Segment tail. Media frames are never decoded; Block payloads are
// treated as opaque binary.
//
// Example usage:
//
//	doc, err := matroska.ParseFile("video.mkv", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, segment := range doc.Segments() {
//	    if d := segment.Get("Info", "Duration"); d != nil {
//	        fmt.Println("duration:", d.Span())
//	    }
//	    for _, video := range segment.Get("Tracks").ChildList("Video") {
//	        fmt.Println("video track:", video.Get("CodecID").Str())
//	    }
//	}
package matroska

import (
	"fmt"
	"io"
	"log"
	"os"
)

// DefaultBinarySizeLimit is the per-element byte cap applied to binary
// payloads when Parse is called with nil options.
const DefaultBinarySizeLimit = 16

// CommonSections are the level-1 Segment sections read by default.
var CommonSections = []string{"Info", "Tracks", "Chapters", "Attachments"}

// Options controls what the parser reads and how.
//
// The zero value of every field is meaningful: no sections resolves to
// CommonSections, a zero BinarySizeLimit stores no binary payload bytes
// at all. Passing a nil *Options to Parse selects CommonSections with
// BinarySizeLimit set to DefaultBinarySizeLimit.
type Options struct {
	// IncludeSections names the level-1 Segment sections to read in
	// full: Info, Tracks, Chapters, Attachments, Tags, Cues, Cluster,
	// SeekHead. The meta-name "*common" stands for CommonSections and
	// "*" for everything. Sections not listed are skipped; SeekHead is
	// still consumed internally to drive seeking.
	IncludeSections []string

	// BinarySizeLimit caps the bytes stored per binary leaf. Elements
	// larger than the cap keep only a prefix and are marked Skipped.
	// Negative means unlimited. SeekID payloads are always read fully.
	BinarySizeLimit int64

	// ExhaustiveSearch permits reading sequentially through the Cluster
	// region when neither the SeekHead nor the tail scan could locate a
	// requested section.
	ExhaustiveSearch bool

	// KeepStreamOpen attaches the byte source to the returned Document
	// so binary payloads (attachments) can be extracted afterwards. The
	// caller then owns the stream and must call Document.Close.
	KeepStreamOpen bool

	// Entry, when set, is invoked once per element in document order:
	// for containers right after the header is read, for leaves after
	// the value is decoded and cooked. Returning false aborts the parse
	// promptly; the partial tree is returned without error.
	Entry func(*Element) bool

	// Logger receives format diagnostics (invalid VINTs, unexpected
	// sizes, unknown elements). Nil discards them.
	Logger *log.Logger
}

// resolveInclude expands meta-names and builds the include set.
func resolveInclude(names []string) map[string]bool {
	if len(names) == 0 {
		names = CommonSections
	}
	set := make(map[string]bool)
	for _, name := range names {
		switch name {
		case "*common":
			for _, n := range CommonSections {
				set[n] = true
			}
		case "*":
			for n := range sectionIDs {
				set[n] = true
			}
			set["EBML"] = true
		default:
			set[name] = true
		}
	}
	return set
}

// Document is the parse result: a virtual root container holding the
// EBML header documents and Segments of the stream, in file order.
type Document struct {
	Root *Element

	reader *EBMLReader
}

// EBMLHeaders returns the EBML header documents of the stream.
func (d *Document) EBMLHeaders() []*Element {
	return d.Root.ChildList("EBML")
}

// Segments returns the Segments of the stream. Concatenated files carry
// more than one.
func (d *Document) Segments() []*Element {
	return d.Root.ChildList("Segment")
}

// Find returns all elements in the document whose name matches the
// pattern, in document order.
func (d *Document) Find(pattern string) ([]*Element, error) {
	return d.Root.Find(pattern)
}

// Close releases the byte source kept open by Options.KeepStreamOpen.
// It is a no-op on documents that do not hold a stream.
func (d *Document) Close() error {
	if d.reader == nil {
		return nil
	}
	r := d.reader
	d.reader = nil
	return r.Close()
}

// ExtractAttachment copies the payload of an AttachedFile element to w.
// It requires a document parsed with KeepStreamOpen: the data is read
// from the stream at FileData's recorded position, so it works even
// when the in-tree payload was capped by BinarySizeLimit.
func (d *Document) ExtractAttachment(attached *Element, w io.Writer) error {
	if d.reader == nil {
		return fmt.Errorf("stream not available: parse with KeepStreamOpen")
	}
	fd := attached.Child("FileData")
	if fd == nil {
		fd = attached
	}
	if err := d.reader.Seek(fd.DataPos); err != nil {
		return fmt.Errorf("failed to seek to attachment data: %w", err)
	}
	if _, err := d.reader.CopyN(w, fd.Size); err != nil {
		return fmt.Errorf("failed to read attachment data: %w", err)
	}
	return nil
}

// Parse reads a Matroska stream from r and returns its element tree.
//
// The stream must be seekable; the parser owns it for the duration of
// the call. With opts nil, the common sections are read with the
// default binary cap. Unless KeepStreamOpen is set, the stream is not
// closed by the parser and may be reused by the caller afterwards.
func Parse(r io.ReadSeeker, opts *Options) (*Document, error) {
	var o Options
	if opts != nil {
		o = *opts
	} else {
		o.BinarySizeLimit = DefaultBinarySizeLimit
	}

	er, err := NewEBMLReader(r)
	if err != nil {
		return nil, err
	}

	root := &Element{
		Name:  "",
		Type:  TypeContainer,
		Path:  "/",
		Level: -1,
		Size:  er.Len(),
		def:   rootDef,
	}
	doc := &Document{Root: root}
	p := &parser{
		reader:  er,
		opts:    o,
		logger:  o.Logger,
		include: resolveInclude(o.IncludeSections),
	}

	if err = p.parseRoot(root); err != nil {
		return nil, err
	}
	if o.KeepStreamOpen {
		doc.reader = er
	}
	return doc, nil
}

// ParseFile opens path and parses it. Without KeepStreamOpen the file
// is closed before returning; with it, the file is handed to the
// Document and released by Document.Close.
func ParseFile(path string, opts *Options) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	doc, err := Parse(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if opts == nil || !opts.KeepStreamOpen {
		if err = f.Close(); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
