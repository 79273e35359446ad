package matroska

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
)

// Level-1 Segment sections the selective-read controller knows about.
var sectionIDs = map[string]uint32{
	"SeekHead":    IDSeekHead,
	"Info":        IDInfo,
	"Tracks":      IDTracks,
	"Cluster":     IDCluster,
	"Cues":        IDCues,
	"Attachments": IDAttachments,
	"Chapters":    IDChapters,
	"Tags":        IDTags,
}

// Tail-scan parameters: the scan steps backward through the final part
// of a Segment in small chunks, and gives up after about a mebibyte.
const (
	tailScanChunk = 4 * 1024
	tailScanLimit = 1024 * 1024
)

type parser struct {
	reader  *EBMLReader
	opts    Options
	logger  *log.Logger
	include map[string]bool
	aborted bool

	// Per-segment state.
	segment       *Element
	timecodeScale uint64
	seekIndex     map[uint32]int64
	seekHeadsSeen map[int64]bool
}

func (p *parser) warnf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// notify runs the user callback for el. It returns false when the
// callback asked to abort the parse.
func (p *parser) notify(el *Element) bool {
	if p.opts.Entry != nil && !p.opts.Entry(el) {
		p.aborted = true
		return false
	}
	return true
}

// parseRoot drives the top-level loop: locate EBML/Segment magic, read
// each root document, recover framing between them.
func (p *parser) parseRoot(root *Element) error {
	er := p.reader
	found := false
	for er.Position() < er.Len() && !p.aborted {
		start := er.Position()
		id, _, err := er.ReadVintID()
		var def *elementDef
		if err == nil {
			def = rootDef.child(id)
		}
		if def == nil {
			if err != nil && err != errInvalidVint && !errors.Is(err, io.EOF) {
				return err
			}
			next := p.scanMagic(start)
			if next < 0 {
				if !found {
					return ErrNotMatroska
				}
				p.warnf("ignoring %d trailing bytes at %d", er.Len()-start, start)
				return nil
			}
			if next > start {
				p.warnf("skipped %d foreign bytes before offset %d", next-start, next)
			}
			if err = er.Seek(next); err != nil {
				return err
			}
			continue
		}

		size, _, err := er.ReadVintSize()
		if err != nil {
			if errors.Is(err, io.EOF) || err == errInvalidVint {
				p.warnf("unreadable size for element 0x%X at %d", id, start)
				return nil
			}
			return err
		}
		datapos := er.Position()
		el := p.newElement(root, def, id, start, datapos, size)
		root.append(el)
		found = found || id == IDEBML || id == IDSegment

		switch {
		case id == IDSegment:
			if !p.notify(el) {
				return nil
			}
			err = p.parseSegment(el)
		case def.typ == TypeContainer:
			if !p.notify(el) {
				return nil
			}
			err = p.readChildren(el, p.containerEnd(el))
		default:
			if err = p.readLeaf(el); err == nil {
				p.notify(el)
			}
		}
		if err != nil {
			if errors.Is(err, ErrTruncated) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				p.warnf("element at %d: %v", start, err)
				if size == SizeUnknown || datapos+size > er.Len() {
					return nil
				}
			} else {
				return err
			}
		}
		if el.Size != SizeUnknown {
			if err = er.Seek(el.DataPos + el.Size); err != nil {
				return err
			}
		}
	}
	if !found && !p.aborted {
		return ErrNotMatroska
	}
	return nil
}

// scanMagic searches forward from offset for the byte signature of an
// EBML header or a Segment and returns its absolute position, or -1.
func (p *parser) scanMagic(from int64) int64 {
	er := p.reader
	sigs := [][]byte{
		{0x1A, 0x45, 0xDF, 0xA3}, // EBML
		{0x18, 0x53, 0x80, 0x67}, // Segment
	}
	if err := er.Seek(from); err != nil {
		return -1
	}
	var tail []byte
	base := from
	for er.Position() < er.Len() {
		n := int64(tailScanChunk)
		if rest := er.Len() - er.Position(); rest < n {
			n = rest
		}
		chunk, err := er.ReadFull(n)
		if err != nil {
			return -1
		}
		buf := append(tail, chunk...)
		best := int64(-1)
		for _, sig := range sigs {
			if i := bytes.Index(buf, sig); i >= 0 {
				if at := base + int64(i); best < 0 || at < best {
					best = at
				}
			}
		}
		if best >= 0 {
			return best
		}
		// Keep the last 3 bytes so a signature straddling two chunks is
		// still seen.
		keep := buf
		if len(keep) > 3 {
			keep = keep[len(keep)-3:]
		}
		tail = append([]byte(nil), keep...)
		base = er.Position() - int64(len(tail))
	}
	return -1
}

// newElement builds a node with its placement metadata; it does not read
// any payload and does not link the node into the parent.
func (p *parser) newElement(parent *Element, def *elementDef, id uint32, pos, datapos, size int64) *Element {
	el := &Element{
		ID:      id,
		Pos:     pos,
		DataPos: datapos,
		Size:    size,
		Level:   parent.Level + 1,
		Parent:  parent,
		def:     def,
	}
	if def != nil {
		el.Name = def.name
		el.Type = def.typ
	} else {
		el.Name = "?"
		el.Type = TypeUnknown
	}
	el.Path = parent.Path + el.Name
	if el.Type == TypeContainer {
		el.Path += "/"
	}
	if parent.Parent == nil {
		el.Root = el
	} else {
		el.Root = parent.Root
	}
	return el
}

// containerEnd returns the exclusive payload end of a container, or the
// stream end when the size is unknown.
func (p *parser) containerEnd(el *Element) int64 {
	if el.Size == SizeUnknown {
		return p.reader.Len()
	}
	return el.DataPos + el.Size
}

// readElement reads one element at the current position into parent:
// header, schema resolution, payload (decoded, recursed into, or
// skipped), cooking and callback.
func (p *parser) readElement(parent *Element) error {
	er := p.reader
	pos := er.Position()
	id, _, err := er.ReadVintID()
	if err != nil {
		return err
	}
	def := parent.def.child(id)
	size, _, err := er.ReadVintSize()
	if err != nil {
		return err
	}
	datapos := er.Position()

	el := p.newElement(parent, def, id, pos, datapos, size)
	if size != SizeUnknown {
		if datapos+size > er.Len() {
			return fmt.Errorf("%w: %s at %d: %d bytes past end of stream", ErrTruncated, el.Name, pos, datapos+size-er.Len())
		}
		if parent.Size != SizeUnknown && parent.Parent != nil && datapos+size > parent.DataPos+parent.Size {
			return fmt.Errorf("%w: %s at %d exceeds parent %s", ErrTruncated, el.Name, pos, parent.Name)
		}
	}

	if def == nil {
		return p.readUnknown(parent, el)
	}

	if def.fixedSize > 0 && size != SizeUnknown && size != def.fixedSize {
		p.warnf("%s at %d: size %d, schema says %d", el.Name, pos, size, def.fixedSize)
	}

	if def.typ == TypeContainer {
		parent.append(el)
		if !p.notify(el) {
			return nil
		}
		if size == SizeUnknown {
			return p.readChildrenUnknown(el)
		}
		return p.readChildren(el, datapos+size)
	}

	if err = p.readLeaf(el); err != nil {
		return err
	}
	parent.append(el)
	p.notify(el)
	return nil
}

// readChildren reads the children of a bounded container and leaves the
// reader at the container end.
func (p *parser) readChildren(el *Element, end int64) error {
	er := p.reader
	for er.Position() < end && !p.aborted {
		if err := p.readElement(el); err != nil {
			if err == errInvalidVint {
				p.warnf("invalid VINT inside %s at %d, skipping rest of container", el.Name, er.Position())
				break
			}
			return err
		}
	}
	if p.aborted {
		return nil
	}
	return er.Seek(end)
}

// readChildrenUnknown reads the children of a container with the
// unknown-size sentinel. The payload is bounded by the first ID that is
// not a legal child of the container, or end-of-stream; the element's
// Size is rewritten to the consumed extent.
func (p *parser) readChildrenUnknown(el *Element) error {
	er := p.reader
	for er.Position() < er.Len() && !p.aborted {
		mark := er.Position()
		id, _, err := er.ReadVintID()
		if err != nil || el.def.child(id) == nil {
			if err = er.Seek(mark); err != nil {
				return err
			}
			break
		}
		if err = er.Seek(mark); err != nil {
			return err
		}
		if err = p.readElement(el); err != nil {
			if err == errInvalidVint {
				p.warnf("invalid VINT inside %s at %d", el.Name, er.Position())
				break
			}
			return err
		}
	}
	el.Size = er.Position() - el.DataPos
	return nil
}

// readUnknown handles an element whose ID resolves to no schema entry:
// it is stored as opaque binary named "?" with its payload skipped. When
// the payload begins with printable ASCII a short preview is recorded,
// which helps diagnosing truncated or mis-framed streams.
func (p *parser) readUnknown(parent *Element, el *Element) error {
	er := p.reader
	el.Type = TypeBinary
	el.Skipped = true
	if el.Size == SizeUnknown {
		return fmt.Errorf("%w: unknown element 0x%X at %d with unknown size", ErrTruncated, el.ID, el.Pos)
	}
	n := el.Size
	if n > 16 {
		n = 16
	}
	if n > 0 {
		prefix, err := er.ReadFull(n)
		if err != nil {
			return err
		}
		el.Value = prefix
		if len(prefix) >= 4 && isPrintable(prefix) {
			el.DisplayString = fmt.Sprintf("%q...", prefix)
		}
	}
	p.warnf("unknown element 0x%X (%d bytes) at %d inside %s", el.ID, el.Size, el.Pos, parent.Name)
	if err := er.Seek(el.DataPos + el.Size); err != nil {
		return err
	}
	parent.append(el)
	p.notify(el)
	return nil
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// readLeaf decodes a leaf payload according to its declared type and
// applies the cooking rules.
func (p *parser) readLeaf(el *Element) error {
	er := p.reader
	if el.Size == SizeUnknown {
		return fmt.Errorf("%w: leaf %s at %d with unknown size", ErrTruncated, el.Name, el.Pos)
	}

	if el.Type == TypeBinary {
		if err := p.readBinary(el); err != nil {
			return err
		}
		p.cook(el)
		return nil
	}

	data, err := er.ReadFull(el.Size)
	if err != nil {
		return err
	}
	if el.Size == 0 && el.def.defval != nil {
		el.Value = el.def.defval
		p.cook(el)
		return nil
	}
	switch el.Type {
	case TypeUint:
		el.Value = decodeUint(data)
	case TypeInt:
		el.Value = decodeInt(data)
	case TypeFloat:
		v, errDecode := decodeFloat(data)
		if errDecode != nil {
			p.warnf("%s at %d: %v (%d bytes), using 0", el.Name, el.Pos, errDecode, len(data))
		}
		el.Value = v
	case TypeDate:
		v, errDecode := decodeDate(data)
		if errDecode != nil {
			p.warnf("%s at %d: %v (%d bytes)", el.Name, el.Pos, errDecode, len(data))
		}
		el.Value = v
	case TypeString:
		el.Value = decodeString(data)
	default:
		el.Value = data
	}
	p.cook(el)
	return nil
}

// readBinary reads a binary leaf subject to the configured size cap.
// SeekID payloads are always read in full; a negative cap disables the
// limit. When only a prefix is kept the element is marked Skipped.
func (p *parser) readBinary(el *Element) error {
	er := p.reader
	limit := p.opts.BinarySizeLimit
	if el.ID == IDSeekID || limit < 0 || el.Size <= limit {
		data, err := er.ReadFull(el.Size)
		if err != nil {
			return err
		}
		el.Value = data
		return nil
	}
	if limit > 0 {
		prefix, err := er.ReadFull(limit)
		if err != nil {
			return err
		}
		el.Value = prefix
	}
	el.Skipped = true
	return er.Seek(el.DataPos + el.Size)
}

// parseSegment traverses one Segment under the selective-read
// controller: wanted sections are read as they appear, the scan
// stops at the first Cluster, and trailing sections are reached through
// the SeekHead index or a bounded tail scan.
func (p *parser) parseSegment(seg *Element) error {
	er := p.reader
	p.segment = seg
	p.timecodeScale = 1000000
	p.seekIndex = make(map[uint32]int64)
	p.seekHeadsSeen = make(map[int64]bool)

	wanted := make(map[string]bool)
	for name := range sectionIDs {
		if p.include[name] {
			wanted[name] = true
		}
	}

	end := p.containerEnd(seg)
	if end > er.Len() {
		p.warnf("Segment at %d declares %d bytes past end of stream", seg.Pos, end-er.Len())
		end = er.Len()
	}
	resume := end

scan:
	for er.Position() < end && !p.aborted {
		pos := er.Position()
		id, _, err := er.ReadVintID()
		if err != nil {
			if err == errInvalidVint {
				p.warnf("invalid VINT at %d inside Segment", pos)
				break scan
			}
			if errors.Is(err, io.EOF) {
				break scan
			}
			return err
		}
		def := seg.def.child(id)
		size, _, err := er.ReadVintSize()
		if err != nil {
			if err == errInvalidVint || errors.Is(err, io.EOF) {
				p.warnf("unreadable size at %d inside Segment", pos)
				break scan
			}
			return err
		}
		datapos := er.Position()

		if seg.Size == SizeUnknown && def == nil && globalDefs[id] == nil {
			// An unknown-size Segment ends at the first foreign ID.
			if err = er.Seek(pos); err != nil {
				return err
			}
			seg.Size = pos - seg.DataPos
			end = pos
			break scan
		}

		name := "?"
		if def != nil {
			name = def.name
		}

		switch {
		case id == IDSeekHead:
			if size == SizeUnknown {
				return fmt.Errorf("%w: SeekHead at %d with unknown size", ErrTruncated, pos)
			}
			p.readSeekIndex(datapos, size)
			if err = er.Seek(pos); err != nil {
				return err
			}
			if p.include["SeekHead"] {
				if err = p.readElement(seg); err != nil {
					return err
				}
				delete(wanted, "SeekHead")
			} else {
				p.skipSection(seg, def, id, pos, datapos, size)
				if err = er.Seek(datapos + size); err != nil {
					return err
				}
			}
		case p.include[name] || def != nil && def.global:
			if err = er.Seek(pos); err != nil {
				return err
			}
			if err = p.readElement(seg); err != nil {
				return err
			}
			delete(wanted, name)
		case id == IDCluster:
			// The heavy region begins; stop scanning sequentially.
			p.skipSection(seg, def, id, pos, datapos, size)
			resume = pos
			break scan
		default:
			if size == SizeUnknown {
				return fmt.Errorf("%w: %s at %d with unknown size", ErrTruncated, name, pos)
			}
			p.skipSection(seg, def, id, pos, datapos, size)
			if err = er.Seek(datapos + size); err != nil {
				return err
			}
		}
		if p.aborted {
			return nil
		}
		// Clusters and SeekHeads repeat, so an early stop is only safe
		// when neither is being collected.
		if len(wanted) == 0 && !p.include["Cluster"] && !p.include["SeekHead"] {
			break scan
		}
	}

	if p.aborted {
		return nil
	}

	if len(wanted) > 0 {
		if err := p.seekDirected(seg, wanted); err != nil {
			return err
		}
	}
	if !p.aborted && len(wanted) > 0 {
		if err := p.tailScan(seg, wanted, end); err != nil {
			return err
		}
	}
	if !p.aborted && len(wanted) > 0 && p.opts.ExhaustiveSearch {
		if err := p.reader.Seek(resume); err != nil {
			return err
		}
		if err := p.exhaustiveScan(seg, wanted, end); err != nil {
			return err
		}
	}
	if len(wanted) > 0 {
		for name := range wanted {
			p.warnf("section %s not found in Segment at %d", name, seg.Pos)
		}
	}
	if seg.Size != SizeUnknown {
		return er.Seek(seg.DataPos + seg.Size)
	}
	return nil
}

// skipSection records a deferred or hard-skipped level-1 section as a
// stub element so its position stays visible in the tree.
func (p *parser) skipSection(seg *Element, def *elementDef, id uint32, pos, datapos, size int64) {
	el := p.newElement(seg, def, id, pos, datapos, size)
	el.Skipped = true
	seg.append(el)
	p.notify(el)
}

// readSeekIndex parses a SeekHead payload directly into the per-segment
// seek index, mapping each referenced section ID to its absolute offset
// (Segment data start + SeekPosition). SeekHeads referring to further
// SeekHeads are followed recursively and their indexes merged.
func (p *parser) readSeekIndex(datapos, size int64) {
	er := p.reader
	if p.seekHeadsSeen[datapos] {
		return
	}
	p.seekHeadsSeen[datapos] = true
	restore := er.Position()
	defer func() {
		_ = er.Seek(restore)
	}()
	if err := er.Seek(datapos); err != nil {
		return
	}

	var followUps []int64
	end := datapos + size
	for er.Position() < end {
		id, _, err := er.ReadVintID()
		if err != nil {
			return
		}
		sz, _, err := er.ReadVintSize()
		if err != nil || sz == SizeUnknown {
			return
		}
		if id != IDSeek {
			if err = er.Skip(sz); err != nil {
				return
			}
			continue
		}
		var target uint32
		var offset int64
		haveOffset := false
		seekEnd := er.Position() + sz
		for er.Position() < seekEnd {
			cid, _, errChild := er.ReadVintID()
			if errChild != nil {
				return
			}
			csz, _, errChild := er.ReadVintSize()
			if errChild != nil || csz == SizeUnknown {
				return
			}
			data, errChild := er.ReadFull(csz)
			if errChild != nil {
				return
			}
			switch cid {
			case IDSeekID:
				target = uint32(decodeUint(data))
			case IDSeekPosition:
				offset = int64(decodeUint(data))
				haveOffset = true
			}
		}
		if target != 0 && haveOffset {
			abs := p.segment.DataPos + offset
			if target == IDSeekHead {
				followUps = append(followUps, abs)
			} else {
				p.seekIndex[target] = abs
			}
		}
	}

	for _, abs := range followUps {
		if err := er.Seek(abs); err != nil {
			continue
		}
		id, _, err := er.ReadVintID()
		if err != nil || id != IDSeekHead {
			continue
		}
		sz, _, err := er.ReadVintSize()
		if err != nil || sz == SizeUnknown {
			continue
		}
		p.readSeekIndex(er.Position(), sz)
	}
}

// seekDirected reads every still-wanted section whose position is known
// from the SeekHead index, in file order.
func (p *parser) seekDirected(seg *Element, wanted map[string]bool) error {
	er := p.reader
	type target struct {
		name string
		pos  int64
	}
	var targets []target
	for name := range wanted {
		if pos, ok := p.seekIndex[sectionIDs[name]]; ok {
			targets = append(targets, target{name, pos})
		}
	}
	for i := range targets {
		for j := i + 1; j < len(targets); j++ {
			if targets[j].pos < targets[i].pos {
				targets[i], targets[j] = targets[j], targets[i]
			}
		}
	}
	for _, t := range targets {
		if p.aborted {
			return nil
		}
		if err := er.Seek(t.pos); err != nil {
			return err
		}
		mark := er.Position()
		id, _, err := er.ReadVintID()
		if err != nil || id != sectionIDs[t.name] {
			p.warnf("SeekHead entry for %s points at 0x%X, ignoring", t.name, id)
			continue
		}
		if err = er.Seek(mark); err != nil {
			return err
		}
		if err = p.readElement(seg); err != nil {
			if errors.Is(err, ErrTruncated) {
				p.warnf("%s via SeekHead: %v", t.name, err)
				continue
			}
			return err
		}
		delete(wanted, t.name)
	}
	return nil
}

// tailScan walks backward from the Segment end looking for the byte
// signatures of level-1 sections, verifies each candidate by decoding
// its header and checking that it chains exactly to the element behind
// it (the last one to the Segment end), then reads the verified
// candidates that are still wanted. The scan is bounded and runs once
// per Segment.
func (p *parser) tailScan(seg *Element, wanted map[string]bool, end int64) error {
	er := p.reader
	start := seg.DataPos
	if end-start > tailScanLimit {
		start = end - tailScanLimit
	}

	var candidates []int64
	for chunkEnd := end; chunkEnd > start; {
		chunkStart := chunkEnd - tailScanChunk
		if chunkStart < start {
			chunkStart = start
		}
		// Overlap by 3 bytes so signatures straddling a boundary are seen.
		readEnd := chunkEnd + 3
		if readEnd > end {
			readEnd = end
		}
		if err := er.Seek(chunkStart); err != nil {
			return err
		}
		buf, err := er.ReadFull(readEnd - chunkStart)
		if err != nil {
			return err
		}
		for _, id := range sectionIDs {
			sig := []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
			for off := 0; ; {
				i := bytes.Index(buf[off:], sig)
				if i < 0 {
					break
				}
				candidates = append(candidates, chunkStart+int64(off+i))
				off += i + 1
			}
		}
		chunkEnd = chunkStart
	}
	if len(candidates) == 0 {
		return nil
	}
	for i := range candidates {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j] < candidates[i] {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}

	// Verify from the end: a candidate is real when its declared extent
	// reaches exactly to the next verified element (or the Segment end).
	verified := make([]int64, 0, len(candidates))
	chain := end
	for i := len(candidates) - 1; i >= 0; i-- {
		pos := candidates[i]
		if pos >= chain {
			continue
		}
		if err := er.Seek(pos); err != nil {
			return err
		}
		_, _, err := er.ReadVintID()
		if err != nil {
			continue
		}
		size, _, err := er.ReadVintSize()
		if err != nil || size == SizeUnknown {
			continue
		}
		if er.Position()+size == chain {
			verified = append(verified, pos)
			chain = pos
		}
	}

	for i := len(verified) - 1; i >= 0; i-- {
		if p.aborted {
			return nil
		}
		pos := verified[i]
		if err := er.Seek(pos); err != nil {
			return err
		}
		id, _, err := er.ReadVintID()
		if err != nil {
			continue
		}
		name := ""
		for n, nid := range sectionIDs {
			if nid == id {
				name = n
			}
		}
		if !wanted[name] {
			continue
		}
		if err = er.Seek(pos); err != nil {
			return err
		}
		if err = p.readElement(seg); err != nil {
			if errors.Is(err, ErrTruncated) {
				p.warnf("%s via tail scan: %v", name, err)
				continue
			}
			return err
		}
		delete(wanted, name)
	}
	return nil
}

// exhaustiveScan reads sequentially through the Cluster region, skipping
// every payload that is not wanted, until the Segment end.
func (p *parser) exhaustiveScan(seg *Element, wanted map[string]bool, end int64) error {
	er := p.reader
	for er.Position() < end && !p.aborted && len(wanted) > 0 {
		pos := er.Position()
		id, _, err := er.ReadVintID()
		if err != nil {
			if err == errInvalidVint {
				p.warnf("invalid VINT at %d during exhaustive scan", pos)
				return nil
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		def := seg.def.child(id)
		size, _, err := er.ReadVintSize()
		if err != nil {
			return nil
		}
		if size == SizeUnknown {
			p.warnf("unknown-size element 0x%X at %d stops exhaustive scan", id, pos)
			return nil
		}
		datapos := er.Position()
		name := "?"
		if def != nil {
			name = def.name
		}
		if wanted[name] {
			if err = er.Seek(pos); err != nil {
				return err
			}
			if err = p.readElement(seg); err != nil {
				return err
			}
			delete(wanted, name)
			continue
		}
		if err = er.Seek(datapos + size); err != nil {
			return err
		}
	}
	return nil
}
