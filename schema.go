package matroska

// EBML element IDs referenced by the parser itself. The full element
// table lives in the schema tree below; these are the IDs the traversal
// and seek logic needs by name.
const (
	IDEBML    = 0x1A45DFA3
	IDSegment = 0x18538067

	IDSeekHead     = 0x114D9B74
	IDSeek         = 0x4DBB
	IDSeekID       = 0x53AB
	IDSeekPosition = 0x53AC

	IDInfo          = 0x1549A966
	IDTimecodeScale = 0x2AD7B1
	IDDuration      = 0x4489

	IDTracks     = 0x1654AE6B
	IDTrackEntry = 0xAE
	IDTrackType  = 0x83

	IDCluster     = 0x1F43B675
	IDCues        = 0x1C53BB6B
	IDChapters    = 0x1043A770
	IDTags        = 0x1254C367
	IDAttachments = 0x1941A469

	IDCRC32         = 0xBF
	IDVoid          = 0xEC
	IDSignatureSlot = 0x1B538667
)

// elementDef is one entry of the static Matroska DTD: the numeric ID,
// declared type, multiplicity, optional default value and, for
// containers, the nested child table with its reverse ID index.
// recursive marks containers that may contain a child of their own type
// (ChapterAtom, SimpleTag).
type elementDef struct {
	name      string
	id        uint32
	typ       ElementType
	multiple  bool
	defval    any
	fixedSize int64
	global    bool
	recursive bool
	children  []*elementDef
	byID      map[uint32]*elementDef
}

// child resolves an ID against this container's schema: own children
// first, then the container itself when recursive nesting is declared,
// then the global table. Returns nil for unknown IDs.
func (d *elementDef) child(id uint32) *elementDef {
	if d != nil {
		if c, ok := d.byID[id]; ok {
			return c
		}
		if d.recursive && id == d.id {
			return d
		}
	}
	return globalDefs[id]
}

var ebmlDef = &elementDef{name: "EBML", id: IDEBML, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "EBMLVersion", id: 0x4286, typ: TypeUint, defval: uint64(1)},
	{name: "EBMLReadVersion", id: 0x42F7, typ: TypeUint, defval: uint64(1)},
	{name: "EBMLMaxIDLength", id: 0x42F2, typ: TypeUint, defval: uint64(4)},
	{name: "EBMLMaxSizeLength", id: 0x42F3, typ: TypeUint, defval: uint64(8)},
	{name: "DocType", id: 0x4282, typ: TypeString, defval: "matroska"},
	{name: "DocTypeVersion", id: 0x4287, typ: TypeUint, defval: uint64(1)},
	{name: "DocTypeReadVersion", id: 0x4285, typ: TypeUint, defval: uint64(1)},
}}

var seekHeadDef = &elementDef{name: "SeekHead", id: IDSeekHead, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "Seek", id: IDSeek, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "SeekID", id: IDSeekID, typ: TypeBinary},
		{name: "SeekPosition", id: IDSeekPosition, typ: TypeUint},
	}},
}}

var infoDef = &elementDef{name: "Info", id: IDInfo, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "SegmentUID", id: 0x73A4, typ: TypeBinary},
	{name: "SegmentFilename", id: 0x7384, typ: TypeString},
	{name: "PrevUID", id: 0x3CB923, typ: TypeBinary},
	{name: "PrevFilename", id: 0x3C83AB, typ: TypeString},
	{name: "NextUID", id: 0x3EB923, typ: TypeBinary},
	{name: "NextFilename", id: 0x3E83BB, typ: TypeString},
	{name: "SegmentFamily", id: 0x4444, typ: TypeBinary, multiple: true},
	{name: "ChapterTranslate", id: 0x6924, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "ChapterTranslateEditionUID", id: 0x69FC, typ: TypeUint, multiple: true},
		{name: "ChapterTranslateCodec", id: 0x69BF, typ: TypeUint},
		{name: "ChapterTranslateID", id: 0x69A5, typ: TypeBinary},
	}},
	{name: "TimecodeScale", id: IDTimecodeScale, typ: TypeUint, defval: uint64(1000000)},
	{name: "Duration", id: IDDuration, typ: TypeFloat},
	{name: "DateUTC", id: 0x4461, typ: TypeDate, fixedSize: 8},
	{name: "Title", id: 0x7BA9, typ: TypeString},
	{name: "MuxingApp", id: 0x4D80, typ: TypeString},
	{name: "WritingApp", id: 0x5741, typ: TypeString},
}}

var blockGroupDef = &elementDef{name: "BlockGroup", id: 0xA0, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "Block", id: 0xA1, typ: TypeBinary},
	{name: "BlockVirtual", id: 0xA2, typ: TypeBinary},
	{name: "BlockAdditions", id: 0x75A1, typ: TypeContainer, children: []*elementDef{
		{name: "BlockMore", id: 0xA6, typ: TypeContainer, multiple: true, children: []*elementDef{
			{name: "BlockAddID", id: 0xEE, typ: TypeUint, defval: uint64(1)},
			{name: "BlockAdditional", id: 0xA5, typ: TypeBinary},
		}},
	}},
	{name: "BlockDuration", id: 0x9B, typ: TypeUint},
	{name: "ReferencePriority", id: 0xFA, typ: TypeUint},
	{name: "ReferenceBlock", id: 0xFB, typ: TypeInt, multiple: true},
	{name: "CodecState", id: 0xA4, typ: TypeBinary},
	{name: "DiscardPadding", id: 0x75A2, typ: TypeInt},
	{name: "Slices", id: 0x8E, typ: TypeContainer, children: []*elementDef{
		{name: "TimeSlice", id: 0xE8, typ: TypeContainer, multiple: true, children: []*elementDef{
			{name: "LaceNumber", id: 0xCC, typ: TypeUint},
		}},
	}},
}}

var clusterDef = &elementDef{name: "Cluster", id: IDCluster, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "Timecode", id: 0xE7, typ: TypeUint},
	{name: "SilentTracks", id: 0x5854, typ: TypeContainer, children: []*elementDef{
		{name: "SilentTrackNumber", id: 0x58D7, typ: TypeUint, multiple: true},
	}},
	{name: "Position", id: 0xA7, typ: TypeUint},
	{name: "PrevSize", id: 0xAB, typ: TypeUint},
	{name: "SimpleBlock", id: 0xA3, typ: TypeBinary, multiple: true},
	blockGroupDef,
	{name: "EncryptedBlock", id: 0xAF, typ: TypeBinary, multiple: true},
}}

var videoDef = &elementDef{name: "Video", id: 0xE0, typ: TypeContainer, children: []*elementDef{
	{name: "FlagInterlaced", id: 0x9A, typ: TypeUint},
	{name: "FieldOrder", id: 0x9D, typ: TypeUint, defval: uint64(2)},
	{name: "StereoMode", id: 0x53B8, typ: TypeUint},
	{name: "AlphaMode", id: 0x53C0, typ: TypeUint},
	{name: "PixelWidth", id: 0xB0, typ: TypeUint},
	{name: "PixelHeight", id: 0xBA, typ: TypeUint},
	{name: "PixelCropBottom", id: 0x54AA, typ: TypeUint},
	{name: "PixelCropTop", id: 0x54BB, typ: TypeUint},
	{name: "PixelCropLeft", id: 0x54CC, typ: TypeUint},
	{name: "PixelCropRight", id: 0x54DD, typ: TypeUint},
	{name: "DisplayWidth", id: 0x54B0, typ: TypeUint},
	{name: "DisplayHeight", id: 0x54BA, typ: TypeUint},
	{name: "DisplayUnit", id: 0x54B2, typ: TypeUint},
	{name: "AspectRatioType", id: 0x54B3, typ: TypeUint},
	{name: "ColourSpace", id: 0x2EB524, typ: TypeBinary},
	{name: "GammaValue", id: 0x2FB523, typ: TypeFloat},
	{name: "Colour", id: 0x55B0, typ: TypeContainer, children: []*elementDef{
		{name: "MatrixCoefficients", id: 0x55B1, typ: TypeUint, defval: uint64(2)},
		{name: "BitsPerChannel", id: 0x55B2, typ: TypeUint},
		{name: "ChromaSubsamplingHorz", id: 0x55B3, typ: TypeUint},
		{name: "ChromaSubsamplingVert", id: 0x55B4, typ: TypeUint},
		{name: "CbSubsamplingHorz", id: 0x55B5, typ: TypeUint},
		{name: "CbSubsamplingVert", id: 0x55B6, typ: TypeUint},
		{name: "ChromaSitingHorz", id: 0x55B7, typ: TypeUint},
		{name: "ChromaSitingVert", id: 0x55B8, typ: TypeUint},
		{name: "Range", id: 0x55B9, typ: TypeUint},
		{name: "TransferCharacteristics", id: 0x55BA, typ: TypeUint, defval: uint64(2)},
		{name: "Primaries", id: 0x55BB, typ: TypeUint, defval: uint64(2)},
		{name: "MaxCLL", id: 0x55BC, typ: TypeUint},
		{name: "MaxFALL", id: 0x55BD, typ: TypeUint},
		{name: "MasteringMetadata", id: 0x55D0, typ: TypeContainer, children: []*elementDef{
			{name: "PrimaryRChromaticityX", id: 0x55D1, typ: TypeFloat},
			{name: "PrimaryRChromaticityY", id: 0x55D2, typ: TypeFloat},
			{name: "PrimaryGChromaticityX", id: 0x55D3, typ: TypeFloat},
			{name: "PrimaryGChromaticityY", id: 0x55D4, typ: TypeFloat},
			{name: "PrimaryBChromaticityX", id: 0x55D5, typ: TypeFloat},
			{name: "PrimaryBChromaticityY", id: 0x55D6, typ: TypeFloat},
			{name: "WhitePointChromaticityX", id: 0x55D7, typ: TypeFloat},
			{name: "WhitePointChromaticityY", id: 0x55D8, typ: TypeFloat},
			{name: "LuminanceMax", id: 0x55D9, typ: TypeFloat},
			{name: "LuminanceMin", id: 0x55DA, typ: TypeFloat},
		}},
	}},
}}

var audioDef = &elementDef{name: "Audio", id: 0xE1, typ: TypeContainer, children: []*elementDef{
	{name: "SamplingFrequency", id: 0xB5, typ: TypeFloat, defval: float64(8000)},
	{name: "OutputSamplingFrequency", id: 0x78B5, typ: TypeFloat},
	{name: "Channels", id: 0x9F, typ: TypeUint, defval: uint64(1)},
	{name: "BitDepth", id: 0x6264, typ: TypeUint},
}}

var trackEntryDef = &elementDef{name: "TrackEntry", id: IDTrackEntry, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "TrackNumber", id: 0xD7, typ: TypeUint},
	{name: "TrackUID", id: 0x73C5, typ: TypeUint},
	{name: "TrackType", id: IDTrackType, typ: TypeUint},
	{name: "FlagEnabled", id: 0xB9, typ: TypeUint, defval: uint64(1)},
	{name: "FlagDefault", id: 0x88, typ: TypeUint, defval: uint64(1)},
	{name: "FlagForced", id: 0x55AA, typ: TypeUint},
	{name: "FlagLacing", id: 0x9C, typ: TypeUint, defval: uint64(1)},
	{name: "MinCache", id: 0x6DE7, typ: TypeUint},
	{name: "MaxCache", id: 0x6DF8, typ: TypeUint},
	{name: "DefaultDuration", id: 0x23E383, typ: TypeUint},
	{name: "DefaultDecodedFieldDuration", id: 0x234E7A, typ: TypeUint},
	{name: "TrackTimecodeScale", id: 0x23314F, typ: TypeFloat, defval: float64(1)},
	{name: "MaxBlockAdditionID", id: 0x55EE, typ: TypeUint},
	{name: "Name", id: 0x536E, typ: TypeString},
	{name: "Language", id: 0x22B59C, typ: TypeString, defval: "eng"},
	{name: "LanguageBCP47", id: 0x22B59D, typ: TypeString},
	{name: "CodecID", id: 0x86, typ: TypeString},
	{name: "CodecPrivate", id: 0x63A2, typ: TypeBinary},
	{name: "CodecName", id: 0x258688, typ: TypeString},
	{name: "AttachmentLink", id: 0x7446, typ: TypeUint},
	{name: "CodecDecodeAll", id: 0xAA, typ: TypeUint, defval: uint64(1)},
	{name: "TrackOverlay", id: 0x6FAB, typ: TypeUint, multiple: true},
	{name: "CodecDelay", id: 0x56AA, typ: TypeUint},
	{name: "SeekPreRoll", id: 0x56BB, typ: TypeUint},
	{name: "TrackTranslate", id: 0x6624, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "TrackTranslateEditionUID", id: 0x66FC, typ: TypeUint, multiple: true},
		{name: "TrackTranslateCodec", id: 0x66BF, typ: TypeUint},
		{name: "TrackTranslateTrackID", id: 0x66A5, typ: TypeBinary},
	}},
	videoDef,
	audioDef,
	{name: "TrackOperation", id: 0xE2, typ: TypeContainer, children: []*elementDef{
		{name: "TrackCombinePlanes", id: 0xE3, typ: TypeContainer, children: []*elementDef{
			{name: "TrackPlane", id: 0xE4, typ: TypeContainer, multiple: true, children: []*elementDef{
				{name: "TrackPlaneUID", id: 0xE5, typ: TypeUint},
				{name: "TrackPlaneType", id: 0xE6, typ: TypeUint},
			}},
		}},
		{name: "TrackJoinBlocks", id: 0xE9, typ: TypeContainer, children: []*elementDef{
			{name: "TrackJoinUID", id: 0xED, typ: TypeUint, multiple: true},
		}},
	}},
	{name: "ContentEncodings", id: 0x6D80, typ: TypeContainer, children: []*elementDef{
		{name: "ContentEncoding", id: 0x6240, typ: TypeContainer, multiple: true, children: []*elementDef{
			{name: "ContentEncodingOrder", id: 0x5031, typ: TypeUint},
			{name: "ContentEncodingScope", id: 0x5032, typ: TypeUint, defval: uint64(1)},
			{name: "ContentEncodingType", id: 0x5033, typ: TypeUint},
			{name: "ContentCompression", id: 0x5034, typ: TypeContainer, children: []*elementDef{
				{name: "ContentCompAlgo", id: 0x4254, typ: TypeUint},
				{name: "ContentCompSettings", id: 0x4255, typ: TypeBinary},
			}},
			{name: "ContentEncryption", id: 0x5035, typ: TypeContainer, children: []*elementDef{
				{name: "ContentEncAlgo", id: 0x47E1, typ: TypeUint},
				{name: "ContentEncKeyID", id: 0x47E2, typ: TypeBinary},
				{name: "ContentSignature", id: 0x47E3, typ: TypeBinary},
				{name: "ContentSigKeyID", id: 0x47E4, typ: TypeBinary},
				{name: "ContentSigAlgo", id: 0x47E5, typ: TypeUint},
				{name: "ContentSigHashAlgo", id: 0x47E6, typ: TypeUint},
			}},
		}},
	}},
}}

var tracksDef = &elementDef{name: "Tracks", id: IDTracks, typ: TypeContainer, multiple: true, children: []*elementDef{
	trackEntryDef,
}}

var cuesDef = &elementDef{name: "Cues", id: IDCues, typ: TypeContainer, children: []*elementDef{
	{name: "CuePoint", id: 0xBB, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "CueTime", id: 0xB3, typ: TypeUint},
		{name: "CueTrackPositions", id: 0xB7, typ: TypeContainer, multiple: true, children: []*elementDef{
			{name: "CueTrack", id: 0xF7, typ: TypeUint},
			{name: "CueClusterPosition", id: 0xF1, typ: TypeUint},
			{name: "CueRelativePosition", id: 0xF0, typ: TypeUint},
			{name: "CueDuration", id: 0xB2, typ: TypeUint},
			{name: "CueBlockNumber", id: 0x5378, typ: TypeUint, defval: uint64(1)},
			{name: "CueCodecState", id: 0xEA, typ: TypeUint},
			{name: "CueReference", id: 0xDB, typ: TypeContainer, multiple: true, children: []*elementDef{
				{name: "CueRefTime", id: 0x96, typ: TypeUint},
			}},
		}},
	}},
}}

var attachmentsDef = &elementDef{name: "Attachments", id: IDAttachments, typ: TypeContainer, children: []*elementDef{
	{name: "AttachedFile", id: 0x61A7, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "FileDescription", id: 0x467E, typ: TypeString},
		{name: "FileName", id: 0x466E, typ: TypeString},
		{name: "FileMimeType", id: 0x4660, typ: TypeString},
		{name: "FileData", id: 0x465C, typ: TypeBinary},
		{name: "FileUID", id: 0x46AE, typ: TypeUint},
	}},
}}

var chapterAtomDef = &elementDef{name: "ChapterAtom", id: 0xB6, typ: TypeContainer, multiple: true, recursive: true, children: []*elementDef{
	{name: "ChapterUID", id: 0x73C4, typ: TypeUint},
	{name: "ChapterStringUID", id: 0x5654, typ: TypeString},
	{name: "ChapterTimeStart", id: 0x91, typ: TypeUint},
	{name: "ChapterTimeEnd", id: 0x92, typ: TypeUint},
	{name: "ChapterFlagHidden", id: 0x98, typ: TypeUint},
	{name: "ChapterFlagEnabled", id: 0x4598, typ: TypeUint, defval: uint64(1)},
	{name: "ChapterSegmentUID", id: 0x6E67, typ: TypeBinary},
	{name: "ChapterSegmentEditionUID", id: 0x6EBC, typ: TypeUint},
	{name: "ChapterPhysicalEquiv", id: 0x63C3, typ: TypeUint},
	{name: "ChapterTrack", id: 0x8F, typ: TypeContainer, children: []*elementDef{
		{name: "ChapterTrackNumber", id: 0x89, typ: TypeUint, multiple: true},
	}},
	{name: "ChapterDisplay", id: 0x80, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "ChapString", id: 0x85, typ: TypeString},
		{name: "ChapLanguage", id: 0x437C, typ: TypeString, multiple: true, defval: "eng"},
		{name: "ChapCountry", id: 0x437E, typ: TypeString, multiple: true},
	}},
	{name: "ChapProcess", id: 0x6944, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "ChapProcessCodecID", id: 0x6955, typ: TypeUint},
		{name: "ChapProcessPrivate", id: 0x450D, typ: TypeBinary},
		{name: "ChapProcessCommand", id: 0x6911, typ: TypeContainer, multiple: true, children: []*elementDef{
			{name: "ChapProcessTime", id: 0x6922, typ: TypeUint},
			{name: "ChapProcessData", id: 0x6933, typ: TypeBinary},
		}},
	}},
}}

var chaptersDef = &elementDef{name: "Chapters", id: IDChapters, typ: TypeContainer, children: []*elementDef{
	{name: "EditionEntry", id: 0x45B9, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "EditionUID", id: 0x45BC, typ: TypeUint},
		{name: "EditionFlagHidden", id: 0x45BD, typ: TypeUint},
		{name: "EditionFlagDefault", id: 0x45DB, typ: TypeUint},
		{name: "EditionFlagOrdered", id: 0x45DD, typ: TypeUint},
		chapterAtomDef,
	}},
}}

var simpleTagDef = &elementDef{name: "SimpleTag", id: 0x67C8, typ: TypeContainer, multiple: true, recursive: true, children: []*elementDef{
	{name: "TagName", id: 0x45A3, typ: TypeString},
	{name: "TagLanguage", id: 0x447A, typ: TypeString, defval: "und"},
	{name: "TagDefault", id: 0x4484, typ: TypeUint, defval: uint64(1)},
	{name: "TagString", id: 0x4487, typ: TypeString},
	{name: "TagBinary", id: 0x4485, typ: TypeBinary},
}}

var tagsDef = &elementDef{name: "Tags", id: IDTags, typ: TypeContainer, multiple: true, children: []*elementDef{
	{name: "Tag", id: 0x7373, typ: TypeContainer, multiple: true, children: []*elementDef{
		{name: "Targets", id: 0x63C0, typ: TypeContainer, children: []*elementDef{
			{name: "TargetTypeValue", id: 0x68CA, typ: TypeUint, defval: uint64(50)},
			{name: "TargetType", id: 0x63CA, typ: TypeString},
			{name: "TagTrackUID", id: 0x63C5, typ: TypeUint, multiple: true},
			{name: "TagEditionUID", id: 0x63C9, typ: TypeUint, multiple: true},
			{name: "TagChapterUID", id: 0x63C4, typ: TypeUint, multiple: true},
			{name: "TagAttachmentUID", id: 0x63C6, typ: TypeUint, multiple: true},
		}},
		simpleTagDef,
	}},
}}

var segmentDef = &elementDef{name: "Segment", id: IDSegment, typ: TypeContainer, multiple: true, children: []*elementDef{
	seekHeadDef,
	infoDef,
	clusterDef,
	tracksDef,
	cuesDef,
	attachmentsDef,
	chaptersDef,
	tagsDef,
}}

// globalDefs holds elements that may appear at any depth.
var globalDefs = map[uint32]*elementDef{}

// rootDef is the schema of the virtual document root: a Matroska stream
// is a sequence of EBML headers and Segments.
var rootDef = &elementDef{name: "", typ: TypeContainer, children: []*elementDef{
	ebmlDef,
	segmentDef,
}}

func init() {
	for _, d := range []*elementDef{
		{name: "CRC-32", id: IDCRC32, typ: TypeBinary, global: true},
		{name: "Void", id: IDVoid, typ: TypeBinary, multiple: true, global: true},
		{name: "SignatureSlot", id: IDSignatureSlot, typ: TypeContainer, multiple: true, global: true, children: []*elementDef{
			{name: "SignatureAlgo", id: 0x7E8A, typ: TypeUint},
			{name: "SignatureHash", id: 0x7E9A, typ: TypeUint},
			{name: "SignaturePublicKey", id: 0x7EA5, typ: TypeBinary},
			{name: "Signature", id: 0x7EB5, typ: TypeBinary},
			{name: "SignatureElements", id: 0x7E5B, typ: TypeContainer, children: []*elementDef{
				{name: "SignatureElementList", id: 0x7E7B, typ: TypeContainer, multiple: true, children: []*elementDef{
					{name: "SignedElement", id: 0x6532, typ: TypeBinary, multiple: true},
				}},
			}},
		}},
	} {
		globalDefs[d.id] = d
		indexDef(d)
	}
	indexDef(rootDef)
}

// indexDef builds the reverse ID index of a container subtree.
func indexDef(d *elementDef) {
	if len(d.children) == 0 || d.byID != nil {
		return
	}
	d.byID = make(map[uint32]*elementDef, len(d.children))
	for _, c := range d.children {
		d.byID[c.id] = c
		indexDef(c)
	}
}
