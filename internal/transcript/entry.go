package transcript

// Kind discriminates the canonical entry variants. Both transcript
// dialects normalize to this set; anything else is dropped at parse time.
type Kind int

const (
	KindUser Kind = iota
	KindAssistant
	KindSystem
	KindSessionMeta
)

var kindNames = map[Kind]string{
	KindUser:        "user",
	KindAssistant:   "assistant",
	KindSystem:      "system",
	KindSessionMeta: "session_meta",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// BlockKind discriminates assistant content block variants.
type BlockKind int

const (
	BlockText BlockKind = iota
	BlockThinking
	BlockToolUse
)

// Block is one content block inside an assistant entry.
type Block struct {
	Kind  BlockKind
	Text  string         // BlockText and BlockThinking
	Tool  string         // BlockToolUse: tool name
	Input map[string]any // BlockToolUse: tool input / arguments
}

// Entry is one normalized transcript line. Line is the 1-indexed source
// line number, kept so consumers can point an editor at the transcript.
type Entry struct {
	Kind   Kind
	Line   int
	Text   string  // KindUser / KindSystem
	Cwd    string  // KindSessionMeta, or piggybacked on a typed entry
	Blocks []Block // KindAssistant
}

// ToolUses returns the tool_use blocks of an assistant entry in order.
func (e Entry) ToolUses() []Block {
	var uses []Block
	for _, b := range e.Blocks {
		if b.Kind == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasThinking reports whether an assistant entry contains a thinking block.
func (e Entry) HasThinking() bool {
	for _, b := range e.Blocks {
		if b.Kind == BlockThinking {
			return true
		}
	}
	return false
}

// Cwd returns the first working directory recorded in the entry stream,
// or "" if none was seen. The directory-encoded path on disk is lossy,
// so this is the only trustworthy project location.
func Cwd(entries []Entry) string {
	for _, e := range entries {
		if e.Cwd != "" {
			return e.Cwd
		}
	}
	return ""
}
