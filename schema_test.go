package matroska

import "testing"

func TestSchemaLookup(t *testing.T) {
	testCases := []struct {
		name   string
		parent *elementDef
		id     uint32
		want   string
	}{
		{"segment child", segmentDef, IDInfo, "Info"},
		{"info child", infoDef, IDTimecodeScale, "TimecodeScale"},
		{"deep child", videoDef, 0xB0, "PixelWidth"},
		{"track entry", tracksDef, IDTrackEntry, "TrackEntry"},
		{"global inside info", infoDef, IDCRC32, "CRC-32"},
		{"global inside track entry", trackEntryDef, IDVoid, "Void"},
		{"top level", rootDef, IDSegment, "Segment"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			def := tc.parent.child(tc.id)
			if def == nil {
				t.Fatalf("child(0x%X) = nil", tc.id)
			}
			if def.name != tc.want {
				t.Errorf("child(0x%X) = %s, want %s", tc.id, def.name, tc.want)
			}
		})
	}
}

func TestSchemaLookupUnknown(t *testing.T) {
	if def := infoDef.child(0xB0); def != nil {
		t.Errorf("PixelWidth resolved inside Info: %s", def.name)
	}
	if def := segmentDef.child(0x7FF3); def != nil {
		t.Errorf("bogus ID resolved inside Segment: %s", def.name)
	}
}

// TestSchemaRecursiveNesting: containers flagged recursive resolve their
// own ID to themselves.
func TestSchemaRecursiveNesting(t *testing.T) {
	if def := chapterAtomDef.child(chapterAtomDef.id); def != chapterAtomDef {
		t.Error("ChapterAtom does not resolve its own ID")
	}
	if def := simpleTagDef.child(simpleTagDef.id); def != simpleTagDef {
		t.Error("SimpleTag does not resolve its own ID")
	}
	// Non-recursive containers must not.
	if def := infoDef.child(infoDef.id); def != nil {
		t.Errorf("Info resolves its own ID: %s", def.name)
	}
}

func TestSchemaDefaults(t *testing.T) {
	testCases := []struct {
		parent *elementDef
		id     uint32
		want   any
	}{
		{infoDef, IDTimecodeScale, uint64(1000000)},
		{trackEntryDef, 0x22B59C, "eng"}, // Language
		{audioDef, 0xB5, float64(8000)},  // SamplingFrequency
		{audioDef, 0x9F, uint64(1)},      // Channels
	}
	for _, tc := range testCases {
		def := tc.parent.child(tc.id)
		if def == nil {
			t.Fatalf("child(0x%X) = nil", tc.id)
		}
		if def.defval != tc.want {
			t.Errorf("%s default = %v, want %v", def.name, def.defval, tc.want)
		}
	}
}

func TestSchemaMultiplicity(t *testing.T) {
	multiple := []struct {
		parent *elementDef
		id     uint32
	}{
		{tracksDef, IDTrackEntry},
		{segmentDef, IDCluster},
		{seekHeadDef, IDSeek},
		{chaptersDef, 0x45B9}, // EditionEntry
	}
	for _, tc := range multiple {
		def := tc.parent.child(tc.id)
		if def == nil || !def.multiple {
			t.Errorf("0x%X under %s should be multiple", tc.id, tc.parent.name)
		}
	}
	if def := infoDef.child(0x7BA9); def == nil || def.multiple {
		t.Error("Title should not be multiple")
	}
}
