package transcript

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
)

// Flavor identifies which transcript dialect a file is written in.
type Flavor string

const (
	FlavorClaude   Flavor = "claude"
	FlavorOpenClaw Flavor = "openclaw"
)

const (
	initialScanBuf = 64 * 1024
	maxLineSize    = 4 * 1024 * 1024
)

// DetectFlavor sniffs the dialect of the file at path. A file is OpenClaw
// iff its first non-empty line parses as JSON with type=="session";
// everything else is treated as Claude Code.
func DetectFlavor(path string) (Flavor, error) {
	f, err := os.Open(path)
	if err != nil {
		return FlavorClaude, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBuf), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.Type == "session" {
			return FlavorOpenClaw, nil
		}
		return FlavorClaude, nil
	}
	return FlavorClaude, scanner.Err()
}

// ParseFile reads the whole transcript and returns the normalized entry
// stream in file order. Malformed lines are skipped silently; the file is
// being appended by a live process and a torn final line is the normal case.
func ParseFile(path string) ([]Entry, error) {
	entries, _, _, err := ReadIncremental(path, 0, 0)
	return entries, err
}

// ReadIncremental reads new complete lines starting at the given byte
// offset and returns the normalized entries, the offset to resume from,
// the 1-indexed line number to resume at, and any error. An incomplete
// trailing line (no newline yet) is left for the next call. startLine is
// the line number of the first line at offset; pass 0 when reading from
// the start of the file.
func ReadIncremental(path string, offset int64, startLine int) ([]Entry, int64, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, offset, startLine, err
	}
	defer f.Close()

	flavor, err := sniffFlavor(f)
	if err != nil {
		return nil, offset, startLine, err
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, startLine, err
	}

	if startLine <= 0 {
		startLine = 1
	}

	var entries []Entry
	reader := bufio.NewReaderSize(f, initialScanBuf)
	parsedOffset := offset
	lineNo := startLine

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return entries, parsedOffset, lineNo, err
		}
		if len(line) == 0 {
			break
		}
		// Incomplete lines (no trailing newline) are preserved for the
		// next read; the writer has not finished them yet.
		if line[len(line)-1] != '\n' {
			break
		}

		data := bytes.TrimSpace(line[:len(line)-1])
		parsedOffset += int64(len(line))
		if len(data) > 0 {
			if entry, ok := decodeLine(flavor, data, lineNo); ok {
				entries = append(entries, entry)
			}
		}
		lineNo++

		if err == io.EOF {
			break
		}
	}

	return entries, parsedOffset, lineNo, nil
}

// CwdFromFile scans the transcript for the first recorded working
// directory without decoding full entries. Returns "" when none is found.
func CwdFromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBuf), maxLineSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Cwd string `json:"cwd"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.Cwd != "" {
			return probe.Cwd, nil
		}
	}
	return "", scanner.Err()
}

// sniffFlavor detects the dialect from an open file and rewinds it.
func sniffFlavor(f *os.File) (Flavor, error) {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, initialScanBuf), maxLineSize)
	flavor := FlavorClaude
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.Type == "session" {
			flavor = FlavorOpenClaw
		}
		break
	}
	if err := scanner.Err(); err != nil {
		return flavor, err
	}
	_, err := f.Seek(0, io.SeekStart)
	return flavor, err
}

func decodeLine(flavor Flavor, data []byte, lineNo int) (Entry, bool) {
	if flavor == FlavorOpenClaw {
		return decodeOpenClawLine(data, lineNo)
	}
	return decodeClaudeLine(data, lineNo)
}

// --- Claude Code dialect ---

type claudeLine struct {
	Type    string          `json:"type"`
	Cwd     string          `json:"cwd"`
	Message json.RawMessage `json:"message"`
	Content json.RawMessage `json:"content"`
}

type rawMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	Arguments map[string]any  `json:"arguments"`
	Content   json.RawMessage `json:"content"`
}

func decodeClaudeLine(data []byte, lineNo int) (Entry, bool) {
	var line claudeLine
	if err := json.Unmarshal(data, &line); err != nil {
		return Entry{}, false
	}

	switch line.Type {
	case "user":
		text, blocks := decodeMessageContent(line.Message)
		if onlyToolResults(blocks) {
			// Tool results come back as user-typed lines; they are not
			// things the human said. Fold them into the system stream,
			// matching the OpenClaw toolResult rule.
			entry := Entry{Kind: KindSystem, Line: lineNo, Text: blockText(blocks), Cwd: line.Cwd}
			return entry, true
		}
		return Entry{Kind: KindUser, Line: lineNo, Text: text, Cwd: line.Cwd}, true

	case "assistant":
		_, blocks := decodeMessageContent(line.Message)
		return Entry{Kind: KindAssistant, Line: lineNo, Blocks: normalizeBlocks(blocks), Cwd: line.Cwd}, true

	case "system":
		text := systemText(line)
		return Entry{Kind: KindSystem, Line: lineNo, Text: text, Cwd: line.Cwd}, true

	default:
		// No recognizable type, but a cwd still locates the project.
		if line.Cwd != "" {
			return Entry{Kind: KindSessionMeta, Line: lineNo, Cwd: line.Cwd}, true
		}
		return Entry{}, false
	}
}

// decodeMessageContent unpacks the "message" field, which may be a bare
// string, or an object whose "content" is a string or a block array.
func decodeMessageContent(raw json.RawMessage) (string, []rawBlock) {
	if len(raw) == 0 {
		return "", nil
	}

	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text, nil
	}

	var msg rawMessage
	if json.Unmarshal(raw, &msg) != nil {
		return "", nil
	}
	return decodeContent(msg.Content)
}

func decodeContent(raw json.RawMessage) (string, []rawBlock) {
	if len(raw) == 0 {
		return "", nil
	}
	var text string
	if json.Unmarshal(raw, &text) == nil {
		return text, nil
	}
	var blocks []rawBlock
	if json.Unmarshal(raw, &blocks) != nil {
		return "", nil
	}
	// A block array with only text blocks still reads as plain text.
	return blockText(blocks), blocks
}

func systemText(line claudeLine) string {
	if text, blocks := decodeMessageContent(line.Message); text != "" || len(blocks) > 0 {
		if text != "" {
			return text
		}
		return blockText(blocks)
	}
	var text string
	if json.Unmarshal(line.Content, &text) == nil {
		return text
	}
	return ""
}

func blockText(blocks []rawBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		case "tool_result":
			var s string
			if json.Unmarshal(b.Content, &s) == nil && s != "" {
				parts = append(parts, s)
			} else if inner, innerBlocks := decodeContent(b.Content); inner != "" {
				parts = append(parts, inner)
			} else if t := blockText(innerBlocks); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func onlyToolResults(blocks []rawBlock) bool {
	if len(blocks) == 0 {
		return false
	}
	for _, b := range blocks {
		if b.Type != "tool_result" {
			return false
		}
	}
	return true
}

func normalizeBlocks(blocks []rawBlock) []Block {
	var out []Block
	for _, b := range blocks {
		switch b.Type {
		case "text":
			out = append(out, Block{Kind: BlockText, Text: b.Text})
		case "thinking":
			out = append(out, Block{Kind: BlockThinking, Text: b.Thinking})
		case "tool_use":
			out = append(out, Block{Kind: BlockToolUse, Tool: b.Name, Input: b.Input})
		case "toolCall":
			out = append(out, Block{Kind: BlockToolUse, Tool: b.Name, Input: b.Arguments})
		}
		// Unknown block variants are dropped, not guessed.
	}
	return out
}

// --- OpenClaw dialect ---

type openclawLine struct {
	Type    string          `json:"type"`
	Cwd     string          `json:"cwd"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"`
}

func decodeOpenClawLine(data []byte, lineNo int) (Entry, bool) {
	var line openclawLine
	if err := json.Unmarshal(data, &line); err != nil {
		return Entry{}, false
	}

	switch line.Type {
	case "session":
		return Entry{Kind: KindSessionMeta, Line: lineNo, Cwd: line.Cwd}, true

	case "message":
		role := line.Role
		content := line.Content
		if role == "" && len(line.Message) > 0 {
			var msg rawMessage
			if json.Unmarshal(line.Message, &msg) == nil {
				role = msg.Role
				content = msg.Content
			}
		}
		text, blocks := decodeContent(content)

		switch role {
		case "user":
			return Entry{Kind: KindUser, Line: lineNo, Text: text}, true
		case "assistant":
			return Entry{Kind: KindAssistant, Line: lineNo, Blocks: normalizeBlocks(blocks)}, true
		case "toolResult":
			return Entry{Kind: KindSystem, Line: lineNo, Text: text}, true
		}
		return Entry{}, false

	default:
		// model_change, thinking_level_change, custom, and anything newer.
		return Entry{}, false
	}
}
