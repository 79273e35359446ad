package matroska

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func parseBytes(t *testing.T, data []byte, opts *Options) *Document {
	t.Helper()
	doc, err := Parse(bytes.NewReader(data), opts)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return doc
}

func firstSegment(t *testing.T, doc *Document) *Element {
	t.Helper()
	segments := doc.Segments()
	if len(segments) == 0 {
		t.Fatal("no Segment parsed")
	}
	return segments[0]
}

func mockFloat32(id uint32, v float32) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, math.Float32bits(v))
	return mockEl(id, payload)
}

func mockTrackEntry(number uint64, trackType uint64, codecID string) []byte {
	return mockEl(IDTrackEntry, cat(
		mockUint(0xD7, number, 1),
		mockUint(IDTrackType, trackType, 1),
		mockEl(0x86, []byte(codecID)),
	))
}

func mockCluster() []byte {
	return mockEl(IDCluster, cat(
		mockUint(0xE7, 1000, 2),
		mockEl(0xA3, []byte{0x81, 0x00, 0x00, 0x80, 'f', 'r', 'a', 'm', 'e'}),
	))
}

func seekEntry(id uint32, pos uint64) []byte {
	sid := []byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)}
	return mockEl(IDSeek, cat(
		mockEl(IDSeekID, sid),
		mockUint(IDSeekPosition, pos, 4),
	))
}

// TestDurationFastPath: with only Info requested, Duration is cooked
// into a time span using the sibling TimecodeScale.
func TestDurationFastPath(t *testing.T) {
	file := mockFile(mockEl(IDInfo, cat(
		mockUint(IDTimecodeScale, 1000000, 3),
		mockFloat32(IDDuration, 123456.0),
	)))

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	duration := firstSegment(t, doc).Get("Info", "Duration")
	if duration == nil {
		t.Fatal("Info/Duration not found")
	}
	if want := 123456 * time.Millisecond; duration.Span() != want {
		t.Errorf("Duration span = %v, want %v", duration.Span(), want)
	}
	if raw, ok := duration.RawValue.(float64); !ok || raw != 123456.0 {
		t.Errorf("Duration raw = %v, want 123456.0", duration.RawValue)
	}
}

// TestTimecodeScaleAfterDuration: EBML order permits the scale to
// arrive after the duration; the span must be rewritten.
func TestTimecodeScaleAfterDuration(t *testing.T) {
	file := mockFile(mockEl(IDInfo, cat(
		mockFloat32(IDDuration, 1000.0),
		mockUint(IDTimecodeScale, 2000000, 3),
	)))

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	duration := firstSegment(t, doc).Get("Info", "Duration")
	if duration == nil {
		t.Fatal("Info/Duration not found")
	}
	if want := 2 * time.Second; duration.Span() != want {
		t.Errorf("Duration span = %v, want %v", duration.Span(), want)
	}
}

// TestTrackTypeIndexing: TrackEntries stay a list in document order and
// are additionally indexed under Tracks by their symbolic type.
func TestTrackTypeIndexing(t *testing.T) {
	file := mockFile(mockEl(IDTracks, cat(
		mockTrackEntry(1, 1, "V_MPEG4/ISO/AVC"),
		mockTrackEntry(2, 2, "A_AAC"),
	)))

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Tracks"}})
	tracks := firstSegment(t, doc).Get("Tracks")
	if tracks == nil {
		t.Fatal("Tracks not found")
	}

	entries := tracks.ChildList("TrackEntry")
	if len(entries) != 2 {
		t.Fatalf("TrackEntry list has %d entries, want 2", len(entries))
	}
	if entries[0].Get("CodecID").Str() != "V_MPEG4/ISO/AVC" {
		t.Error("document order not preserved")
	}
	if tracks.Child("Video") != entries[0] {
		t.Error("Tracks.Video should hold the first entry")
	}
	if tracks.Child("Audio") != entries[1] {
		t.Error("Tracks.Audio should hold the second entry")
	}
	if len(tracks.Children()) != 2 {
		t.Errorf("document-order children = %d, want 2 (index must not duplicate)", len(tracks.Children()))
	}

	tt := entries[0].Child("TrackType")
	if tt.Str() != "Video" {
		t.Errorf("TrackType value = %v, want Video", tt.Value)
	}
	if raw, ok := tt.RawValue.(uint64); !ok || raw != 1 {
		t.Errorf("TrackType raw = %v, want 1", tt.RawValue)
	}
}

// TestTailScanForTags: no SeekHead, Tags trailing the Segment behind
// Clusters and Cues. The parser must stop the sequential scan at the
// first Cluster and reach Tags through the tail scan.
func TestTailScanForTags(t *testing.T) {
	info := mockEl(IDInfo, mockUint(IDTimecodeScale, 1000000, 3))
	cluster := mockCluster()
	cues := mockEl(IDCues, mockEl(0xBB, cat(
		mockUint(0xB3, 0, 1),
		mockEl(0xB7, cat(mockUint(0xF7, 1, 1), mockUint(0xF1, 0, 1))),
	)))
	tags := mockEl(IDTags, mockEl(0x7373, mockEl(0x67C8, cat(
		mockEl(0x45A3, []byte("TITLE")),
		mockEl(0x4487, []byte("demo")),
	))))
	file := mockFile(info, cluster, cues, tags)

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info", "Tags"}})
	seg := firstSegment(t, doc)

	if seg.Get("Info", "TimecodeScale") == nil {
		t.Error("Info not read")
	}
	name := seg.Get("Tags", "Tag", "SimpleTag", "TagName")
	if name == nil || name.Str() != "TITLE" {
		t.Fatalf("Tags not populated via tail scan: %v", name)
	}
	if clusterEl := seg.Child("Cluster"); clusterEl == nil || !clusterEl.Skipped {
		t.Error("Cluster should be present as a skipped stub")
	}
	if seg.Child("Cues") != nil {
		t.Error("Cues were not requested and must not be read")
	}
}

// TestSeekHeadRedirect: SeekHead points at Info and Tags behind the
// Cluster region; Cluster payloads must never be visited.
func TestSeekHeadRedirect(t *testing.T) {
	cluster := mockCluster()
	info := mockEl(IDInfo, mockUint(IDTimecodeScale, 1000000, 3))
	tags := mockEl(IDTags, mockEl(0x7373, mockEl(0x67C8, cat(
		mockEl(0x45A3, []byte("ARTIST")),
		mockEl(0x4487, []byte("nobody")),
	))))

	// Two fixed-width Seek entries make the SeekHead length independent
	// of the offsets, so it can be assembled in one extra pass.
	probe := mockEl(IDSeekHead, cat(seekEntry(IDInfo, 0), seekEntry(IDTags, 0)))
	shLen := int64(len(probe))
	infoOff := uint64(shLen + int64(len(cluster)))
	tagsOff := infoOff + uint64(len(info))
	seekHead := mockEl(IDSeekHead, cat(seekEntry(IDInfo, infoOff), seekEntry(IDTags, tagsOff)))
	if int64(len(seekHead)) != shLen {
		t.Fatal("SeekHead length changed between passes")
	}
	file := mockFile(seekHead, cluster, info, tags)

	var visited []string
	doc := parseBytes(t, file, &Options{
		IncludeSections: []string{"Info", "Tags"},
		Entry: func(el *Element) bool {
			if !el.Skipped {
				visited = append(visited, el.Name)
			}
			return true
		},
	})
	seg := firstSegment(t, doc)

	if seg.Get("Info", "TimecodeScale") == nil {
		t.Error("Info not read via SeekHead")
	}
	tag := seg.Get("Tags", "Tag", "SimpleTag", "TagName")
	if tag == nil || tag.Str() != "ARTIST" {
		t.Error("Tags not read via SeekHead")
	}
	for _, name := range visited {
		if name == "Timecode" || name == "SimpleBlock" {
			t.Errorf("cluster child %s was visited", name)
		}
	}
	if clusterEl := seg.Child("Cluster"); clusterEl == nil || !clusterEl.Skipped {
		t.Error("Cluster should be a skipped stub")
	}
}

// TestAttachmentExtraction: with the stream kept open and a zero binary
// cap, attachment payloads are read back from the stream by position.
func TestAttachmentExtraction(t *testing.T) {
	payload := []byte("this is the attached file payload, long enough to matter")
	file := mockFile(mockEl(IDAttachments, mockEl(0x61A7, cat(
		mockEl(0x466E, []byte("readme.txt")),
		mockEl(0x4660, []byte("text/plain")),
		mockEl(0x465C, payload),
		mockUint(0x46AE, 1, 1),
	))))

	doc := parseBytes(t, file, &Options{
		IncludeSections: []string{"Attachments"},
		BinarySizeLimit: 0,
		KeepStreamOpen:  true,
	})
	defer func() {
		_ = doc.Close()
	}()

	attached := firstSegment(t, doc).Get("Attachments", "AttachedFile")
	if attached == nil {
		t.Fatal("AttachedFile not found")
	}
	fd := attached.Child("FileData")
	if fd == nil {
		t.Fatal("FileData not found")
	}
	if !fd.Skipped || fd.Bytes() != nil {
		t.Error("FileData payload should not be stored with a zero cap")
	}
	if fd.Size != int64(len(payload)) {
		t.Errorf("FileData size = %d, want %d", fd.Size, len(payload))
	}

	var out bytes.Buffer
	if err := doc.ExtractAttachment(attached, &out); err != nil {
		t.Fatalf("ExtractAttachment() failed: %v", err)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Error("extracted payload differs from original")
	}
}

// TestRecursiveChapterAtom: a ChapterAtom nested in a ChapterAtom keeps
// resolving against the same schema and extends the path.
func TestRecursiveChapterAtom(t *testing.T) {
	inner := mockEl(0xB6, cat(
		mockUint(0x91, 100000000, 4),
		mockEl(0x80, mockEl(0x85, []byte("inner"))),
	))
	file := mockFile(mockEl(IDChapters, mockEl(0x45B9, mockEl(0xB6, cat(
		mockUint(0x91, 0, 1),
		inner,
	)))))

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Chapters"}})
	seg := firstSegment(t, doc)

	outer := seg.Get("Chapters", "EditionEntry", "ChapterAtom")
	if outer == nil {
		t.Fatal("outer ChapterAtom not found")
	}
	nested := outer.Child("ChapterAtom")
	if nested == nil {
		t.Fatal("nested ChapterAtom not found")
	}
	want := "/Segment/Chapters/EditionEntry/ChapterAtom/ChapterAtom/"
	if nested.Path != want {
		t.Errorf("nested path = %s, want %s", nested.Path, want)
	}
	start := nested.Child("ChapterTimeStart")
	if start == nil || start.Span() != 100*time.Millisecond {
		t.Errorf("inner ChapterTimeStart = %v, want 100ms", start)
	}
	if nested.Level != outer.Level+1 {
		t.Errorf("nested level = %d, want %d", nested.Level, outer.Level+1)
	}
}

func TestNotMatroska(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte("this is certainly not an ebml stream, not even close")), nil)
	if !errors.Is(err, ErrNotMatroska) {
		t.Errorf("err = %v, want ErrNotMatroska", err)
	}
}

// TestGarbagePrefixResync: the root finder scans forward to the first
// EBML magic when the stream starts with foreign bytes.
func TestGarbagePrefixResync(t *testing.T) {
	file := cat([]byte("JUNKJUNKJUNKJUNK"), mockFile(mockEl(IDInfo, mockUint(IDTimecodeScale, 1000000, 3))))
	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	if len(doc.EBMLHeaders()) != 1 {
		t.Error("EBML header not found after garbage prefix")
	}
	if firstSegment(t, doc).Get("Info") == nil {
		t.Error("Info not parsed after resync")
	}
}

// TestMultiSegment: concatenated files carry several EBML+Segment pairs.
func TestMultiSegment(t *testing.T) {
	file := cat(
		mockFile(mockEl(IDInfo, mockEl(0x7BA9, []byte("first")))),
		mockFile(mockEl(IDInfo, mockEl(0x7BA9, []byte("second")))),
	)
	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	segments := doc.Segments()
	if len(segments) != 2 {
		t.Fatalf("Segments() = %d, want 2", len(segments))
	}
	if segments[0].Get("Info", "Title").Str() != "first" {
		t.Error("first segment title wrong")
	}
	if segments[1].Get("Info", "Title").Str() != "second" {
		t.Error("second segment title wrong")
	}
	if len(doc.EBMLHeaders()) != 2 {
		t.Errorf("EBMLHeaders() = %d, want 2", len(doc.EBMLHeaders()))
	}
}

// TestEntryCallbackAbort: returning false terminates promptly and the
// partial tree is returned without an error.
func TestEntryCallbackAbort(t *testing.T) {
	file := mockFile(
		mockEl(IDInfo, cat(
			mockEl(0x7BA9, []byte("title")),
			mockEl(0x4D80, []byte("mux")),
			mockEl(0x5741, []byte("write")),
		)),
		mockEl(IDTracks, mockTrackEntry(1, 1, "V_TEST")),
	)

	count := 0
	doc, err := Parse(bytes.NewReader(file), &Options{
		IncludeSections: []string{"Info", "Tracks"},
		Entry: func(el *Element) bool {
			count++
			return count < 5
		},
	})
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	if count != 5 {
		t.Errorf("callback ran %d times, want 5", count)
	}
	if doc == nil || len(doc.Segments()) == 0 {
		t.Fatal("partial tree missing")
	}
	if firstSegment(t, doc).Get("Tracks") != nil {
		t.Error("Tracks should not have been reached after abort")
	}
}

// TestEntryCallbackOrder: containers are announced before their
// children, leaves after their value is decoded.
func TestEntryCallbackOrder(t *testing.T) {
	file := mockFile(mockEl(IDInfo, mockEl(0x7BA9, []byte("title"))))
	var order []string
	var titleValue any
	parseBytes(t, file, &Options{
		IncludeSections: []string{"Info"},
		Entry: func(el *Element) bool {
			order = append(order, el.Name)
			if el.Name == "Title" {
				titleValue = el.Value
			}
			return true
		},
	})
	want := []string{"EBML", "EBMLVersion", "DocType", "Segment", "Info", "Title"}
	if len(order) != len(want) {
		t.Fatalf("callback order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("callback order = %v, want %v", order, want)
		}
	}
	if titleValue != "title" {
		t.Error("leaf callback fired before the value was decoded")
	}
}

// TestUnknownElement: an ID absent from the schema is stored as "?"
// with its payload skipped, and a printable prefix is previewed.
func TestUnknownElement(t *testing.T) {
	file := mockFile(mockEl(IDInfo, cat(
		mockEl(0x6FA1, []byte("HELLO-WORLD-PREVIEW-TEXT")),
		mockEl(0x7BA9, []byte("title")),
	)))
	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	info := firstSegment(t, doc).Get("Info")

	unknown := info.Child("?")
	if unknown == nil {
		t.Fatal("unknown element not recorded")
	}
	if !unknown.Skipped {
		t.Error("unknown element should be marked skipped")
	}
	if !strings.Contains(unknown.DisplayString, "HELLO-WORLD") {
		t.Errorf("preview = %q, want printable prefix", unknown.DisplayString)
	}
	if info.Get("Title").Str() != "title" {
		t.Error("parsing did not continue after the unknown element")
	}
}

// TestInvalidVintResync: a zero lead byte poisons the rest of its
// container only.
func TestInvalidVintResync(t *testing.T) {
	infoPayload := cat(
		mockEl(0x7BA9, []byte("title")),
		[]byte{0x00, 0x00, 0x00}, // invalid VINT territory
	)
	file := mockFile(
		mockEl(IDInfo, infoPayload),
		mockEl(IDTracks, mockTrackEntry(1, 2, "A_AAC")),
	)
	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info", "Tracks"}})
	seg := firstSegment(t, doc)
	if seg.Get("Info", "Title").Str() != "title" {
		t.Error("Title before the invalid VINT should be intact")
	}
	if seg.Get("Tracks", "Audio") == nil {
		t.Error("Tracks after the damaged Info should still be parsed")
	}
}

// TestTruncatedSegment: a Segment whose declared size exceeds the
// stream is clamped; what fits is still parsed and Parse does not fail.
func TestTruncatedSegment(t *testing.T) {
	info := mockEl(IDInfo, mockEl(0x7BA9, []byte("title")))
	seg := cat(idEncode(IDSegment), vintEncode(uint64(len(info)+500)), info)
	file := cat(mockHeader(), seg)

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	if firstSegment(t, doc).Get("Info", "Title").Str() != "title" {
		t.Error("Info inside the truncated Segment should be parsed")
	}
}

// TestUnknownSizeSegment: the all-ones size sentinel extends the
// Segment to the end of the stream.
func TestUnknownSizeSegment(t *testing.T) {
	info := mockEl(IDInfo, mockEl(0x7BA9, []byte("title")))
	seg := cat(idEncode(IDSegment), []byte{0xFF}, info)
	file := cat(mockHeader(), seg)

	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info"}})
	if firstSegment(t, doc).Get("Info", "Title").Str() != "title" {
		t.Error("Info inside the unknown-size Segment should be parsed")
	}
}

// TestZeroSizeDefaults: a present but empty element takes its schema
// default.
func TestZeroSizeDefaults(t *testing.T) {
	file := mockFile(
		mockEl(IDInfo, mockEl(IDTimecodeScale, nil)),
		mockEl(IDTracks, mockEl(IDTrackEntry, cat(
			mockUint(0xD7, 1, 1),
			mockUint(IDTrackType, 0x11, 1),
			mockEl(0x22B59C, nil), // empty Language
		))),
	)
	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info", "Tracks"}})
	seg := firstSegment(t, doc)

	if got := seg.Get("Info", "TimecodeScale").Uint(); got != 1000000 {
		t.Errorf("empty TimecodeScale = %d, want the default 1000000", got)
	}
	if got := seg.Get("Tracks", "TrackEntry", "Language").Str(); got != "eng" {
		t.Errorf("empty Language = %q, want eng", got)
	}
	if seg.Get("Tracks", "Subtitle") == nil {
		t.Error("subtitle track not indexed by kind")
	}
}

// TestBinarySizeLimit: oversized binary payloads keep a prefix and are
// marked skipped; SeekID is exempt; a negative cap disables the limit.
func TestBinarySizeLimit(t *testing.T) {
	private := bytes.Repeat([]byte{0xAB}, 64)
	tracksSection := mockEl(IDTracks, mockEl(IDTrackEntry, cat(
		mockUint(0xD7, 1, 1),
		mockUint(IDTrackType, 1, 1),
		mockEl(0x63A2, private),
	)))

	t.Run("capped", func(t *testing.T) {
		doc := parseBytes(t, mockFile(tracksSection), &Options{
			IncludeSections: []string{"Tracks"},
			BinarySizeLimit: 16,
		})
		cp := firstSegment(t, doc).Get("Tracks", "TrackEntry", "CodecPrivate")
		if len(cp.Bytes()) != 16 || !cp.Skipped {
			t.Errorf("CodecPrivate stored %d bytes, skipped=%v; want 16-byte prefix, skipped", len(cp.Bytes()), cp.Skipped)
		}
		if cp.Size != 64 {
			t.Errorf("CodecPrivate size = %d, want 64", cp.Size)
		}
	})

	t.Run("unlimited", func(t *testing.T) {
		doc := parseBytes(t, mockFile(tracksSection), &Options{
			IncludeSections: []string{"Tracks"},
			BinarySizeLimit: -1,
		})
		cp := firstSegment(t, doc).Get("Tracks", "TrackEntry", "CodecPrivate")
		if len(cp.Bytes()) != 64 || cp.Skipped {
			t.Error("negative cap should store the full payload")
		}
	})

	t.Run("seekid exempt", func(t *testing.T) {
		file := mockFile(mockEl(IDSeekHead, seekEntry(IDInfo, 4096)))
		doc := parseBytes(t, file, &Options{
			IncludeSections: []string{"SeekHead"},
			BinarySizeLimit: 0,
		})
		sid := firstSegment(t, doc).Get("SeekHead", "Seek", "SeekID")
		if len(sid.Bytes()) != 4 || sid.Skipped {
			t.Error("SeekID must always be read in full")
		}
	})
}

// TestTreeInvariants: placement metadata is consistent across a tree
// with several sections.
func TestTreeInvariants(t *testing.T) {
	file := mockFile(
		mockEl(IDInfo, cat(
			mockUint(IDTimecodeScale, 1000000, 3),
			mockEl(0x7BA9, []byte("title")),
		)),
		mockEl(IDTracks, cat(
			mockTrackEntry(1, 1, "V_TEST"),
			mockTrackEntry(2, 2, "A_TEST"),
		)),
	)
	doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info", "Tracks"}})

	var check func(el *Element)
	check = func(el *Element) {
		for _, child := range el.Children() {
			if child.Parent != el {
				t.Errorf("%s: parent link broken", child.Path)
			}
			if child.Pos >= child.DataPos {
				t.Errorf("%s: pos %d not before datapos %d", child.Path, child.Pos, child.DataPos)
			}
			if el.Parent != nil && el.Size != SizeUnknown {
				if child.DataPos+child.Size > el.DataPos+el.Size {
					t.Errorf("%s: extends past parent", child.Path)
				}
			}
			if child.Level != el.Level+1 {
				t.Errorf("%s: level %d under level %d", child.Path, child.Level, el.Level)
			}
			wantPath := el.Path + child.Name
			if child.Type == TypeContainer {
				wantPath += "/"
			}
			if child.Path != wantPath {
				t.Errorf("path = %s, want %s", child.Path, wantPath)
			}
			check(child)
		}
	}
	check(doc.Root)
}

// TestExhaustiveSearch: a section hidden behind Clusters that neither
// SeekHead nor the tail scan can prove is found by sequential reading
// when permitted.
func TestExhaustiveSearch(t *testing.T) {
	info := mockEl(IDInfo, mockUint(IDTimecodeScale, 1000000, 3))
	cluster := mockCluster()
	chapters := mockEl(IDChapters, mockEl(0x45B9, mockEl(0xB6, mockUint(0x91, 0, 1))))
	// Trailing garbage breaks the tail-scan verification chain.
	junk := mockEl(IDVoid, bytes.Repeat([]byte{0x11}, 32))
	file := mockFile(info, cluster, chapters, cluster, junk)

	t.Run("without exhaustive search", func(t *testing.T) {
		doc := parseBytes(t, file, &Options{IncludeSections: []string{"Info", "Chapters"}})
		if firstSegment(t, doc).Child("Chapters") != nil {
			t.Skip("tail scan found Chapters; exhaustive fallback not exercised")
		}
	})

	t.Run("with exhaustive search", func(t *testing.T) {
		doc := parseBytes(t, file, &Options{
			IncludeSections:  []string{"Info", "Chapters"},
			ExhaustiveSearch: true,
		})
		if firstSegment(t, doc).Get("Chapters", "EditionEntry", "ChapterAtom") == nil {
			t.Error("Chapters not found by exhaustive search")
		}
	})
}
