package matroska

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Track type codes and their symbolic names.
var trackTypeNames = map[uint64]string{
	1:    "Video",
	2:    "Audio",
	0x10: "Logo",
	0x11: "Subtitle",
	0x12: "Buttons",
	0x20: "Control",
}

// cook replaces raw leaf values with semantically meaningful ones as
// soon as their dependencies are available. The original value is
// preserved in RawValue whenever the visible value changes. Cooking
// never fails: a missing dependency leaves the raw value in place and
// the rule is re-attempted when the dependency arrives.
func (p *parser) cook(el *Element) {
	parent := ""
	if el.Parent != nil {
		parent = el.Parent.Name
	}
	switch el.Name {
	case "TimecodeScale":
		if parent != "Info" {
			return
		}
		p.timecodeScale = el.Uint()
		// EBML order permits Duration before TimecodeScale; rescale any
		// sibling already parsed with the provisional scale.
		for _, d := range el.Parent.ChildList("Duration") {
			p.cookDuration(d)
		}
	case "Duration":
		if parent == "Info" {
			p.cookDuration(el)
		}
	case "Timecode":
		if parent == "Cluster" {
			p.cookScaledTime(el)
		}
	case "CueTime":
		if parent == "CuePoint" {
			p.cookScaledTime(el)
		}
	case "ChapterTimeStart", "ChapterTimeEnd":
		if parent == "ChapterAtom" {
			p.cookNanoTime(el)
		}
	case "CueDuration":
		if parent == "CueTrackPositions" {
			p.cookScaledMillis(el)
		}
	case "BlockDuration":
		if parent == "BlockGroup" {
			p.cookScaledMillis(el)
		}
	case "DefaultDuration", "DefaultDecodedFieldDuration":
		if parent == "TrackEntry" {
			p.cookDefaultDuration(el)
		}
	case "TrackType":
		if parent == "TrackEntry" {
			p.cookTrackType(el)
		}
	case "SegmentUID", "SegmentFamily", "PrevUID", "NextUID":
		if parent == "Info" {
			cookUID(el)
		}
	}
}

// cookDuration rewrites Info/Duration: the raw float counts ticks of
// TimecodeScale nanoseconds. Idempotent; RawValue is set exactly once.
func (p *parser) cookDuration(el *Element) {
	if el.RawValue == nil {
		raw, ok := el.Value.(float64)
		if !ok {
			return
		}
		el.RawValue = raw
	}
	raw := el.RawValue.(float64)
	span := time.Duration(raw * float64(p.timecodeScale))
	el.Value = span
	el.DisplayString = span.String()
}

// cookScaledTime rewrites a cluster-scaled timecode (Cluster/Timecode,
// CuePoint/CueTime) into a time span.
func (p *parser) cookScaledTime(el *Element) {
	if el.RawValue == nil {
		raw, ok := el.Value.(uint64)
		if !ok {
			return
		}
		el.RawValue = raw
	}
	span := time.Duration(el.RawValue.(uint64) * p.timecodeScale)
	el.Value = span
	el.DisplayString = span.String()
}

// cookNanoTime rewrites a chapter timestamp, which is stored in plain
// nanoseconds and not subject to TimecodeScale.
func (p *parser) cookNanoTime(el *Element) {
	if el.RawValue == nil {
		raw, ok := el.Value.(uint64)
		if !ok {
			return
		}
		el.RawValue = raw
	}
	span := time.Duration(el.RawValue.(uint64))
	el.Value = span
	el.DisplayString = span.String()
}

// cookScaledMillis rewrites a cluster-scaled duration shown in
// milliseconds (CueDuration, BlockDuration).
func (p *parser) cookScaledMillis(el *Element) {
	if el.RawValue == nil {
		raw, ok := el.Value.(uint64)
		if !ok {
			return
		}
		el.RawValue = raw
	}
	span := time.Duration(el.RawValue.(uint64) * p.timecodeScale)
	el.Value = span
	el.DisplayString = fmt.Sprintf("%.3fms", float64(span)/float64(time.Millisecond))
}

// cookDefaultDuration rewrites TrackEntry/DefaultDuration, stored in
// plain nanoseconds and shown in milliseconds. For video tracks the
// frame rate is derived as 1e9 over the raw value; when TrackType has
// not arrived yet the annotation is added once it cooks.
func (p *parser) cookDefaultDuration(el *Element) {
	if el.RawValue == nil {
		raw, ok := el.Value.(uint64)
		if !ok {
			return
		}
		el.RawValue = raw
	}
	raw := el.RawValue.(uint64)
	span := time.Duration(raw)
	el.Value = span
	el.DisplayString = fmt.Sprintf("%.3fms", float64(span)/float64(time.Millisecond))
	if raw > 0 && el.Parent != nil {
		if tt := el.Parent.Child("TrackType"); tt != nil && tt.Value == "Video" {
			el.DisplayString += fmt.Sprintf(" (%.3f fps)", 1e9/float64(raw))
		}
	}
}

// cookTrackType replaces the numeric track type with its symbolic name
// and indexes the owning TrackEntry under its Tracks parent by that
// name, so callers can enumerate tracks by kind without scanning.
func (p *parser) cookTrackType(el *Element) {
	if el.RawValue == nil {
		raw, ok := el.Value.(uint64)
		if !ok {
			return
		}
		name, known := trackTypeNames[raw]
		if !known {
			p.warnf("TrackType %d at %d has no symbolic name", raw, el.Pos)
			return
		}
		el.RawValue = raw
		el.Value = name
		el.DisplayString = name
		entry := el.Parent
		if entry != nil && entry.Parent != nil && entry.Parent.Name == "Tracks" {
			entry.Parent.index(name, entry)
		}
	}
	if name, ok := el.Value.(string); ok && name == "Video" && el.Parent != nil {
		// A DefaultDuration decoded before the type was known still
		// needs its fps annotation.
		for _, d := range el.Parent.ChildList("DefaultDuration") {
			p.cookDefaultDuration(d)
		}
		for _, d := range el.Parent.ChildList("DefaultDecodedFieldDuration") {
			p.cookDefaultDuration(d)
		}
	}
}

// cookUID renders 128-bit segment identifiers in UUID text form.
func cookUID(el *Element) {
	b := el.Bytes()
	if len(b) != 16 {
		return
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return
	}
	el.DisplayString = id.String()
}
