package windows

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
)

// RegFileHeader opens every .reg document.
const RegFileHeader = "Windows Registry Editor Version 5.00"

type ValueKind int

const (
	KindString ValueKind = iota
	KindExpandString
	KindMultiString
	KindDWord
)

// Value is a typed registry value.
type Value struct {
	Kind  ValueKind
	Str   string
	Multi []string
	DWord uint32
}

func String(s string) Value         { return Value{Kind: KindString, Str: s} }
func ExpandString(s string) Value   { return Value{Kind: KindExpandString, Str: s} }
func MultiString(s ...string) Value { return Value{Kind: KindMultiString, Multi: s} }
func DWord(v uint32) Value          { return Value{Kind: KindDWord, DWord: v} }

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func encodeUTF16Z(s string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(b, 0, 0), nil
}

func hexBytes(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, ",")
}

// EncodeExpandString renders s as a REG_EXPAND_SZ value: null-terminated
// UTF-16LE bytes in hex(2) notation.
func EncodeExpandString(s string) (string, error) {
	raw, err := encodeUTF16Z(s)
	if err != nil {
		return "", errors.Wrap(err, "utf-16 encode")
	}
	return "hex(2):" + hexBytes(raw), nil
}

// EncodeMultiString renders a REG_MULTI_SZ value: each element
// null-terminated UTF-16LE, followed by one more null code unit, in hex(7)
// notation.
func EncodeMultiString(items []string) (string, error) {
	var raw []byte
	for _, s := range items {
		b, err := encodeUTF16Z(s)
		if err != nil {
			return "", errors.Wrap(err, "utf-16 encode")
		}
		raw = append(raw, b...)
	}
	raw = append(raw, 0, 0)
	return "hex(7):" + hexBytes(raw), nil
}

func EncodeDWord(v uint32) string {
	return fmt.Sprintf("dword:%08x", v)
}

func encodeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func (v Value) Encode() (string, error) {
	switch v.Kind {
	case KindString:
		return encodeLiteral(v.Str), nil
	case KindExpandString:
		return EncodeExpandString(v.Str)
	case KindMultiString:
		return EncodeMultiString(v.Multi)
	case KindDWord:
		return EncodeDWord(v.DWord), nil
	}
	return "", errors.Errorf("unknown value kind %d", v.Kind)
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []byte
	for _, part := range strings.Split(s, ",") {
		b, err := hex.DecodeString(strings.TrimSpace(part))
		if err != nil || len(b) != 1 {
			return nil, errors.Errorf("invalid hex byte '%s'", part)
		}
		out = append(out, b[0])
	}
	return out, nil
}

func decodeUTF16(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		return "", errors.New("odd number of bytes in utf-16 value")
	}
	b, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", errors.Wrap(err, "utf-16 decode")
	}
	return string(b), nil
}

// DecodeExpandString reverses EncodeExpandString.
func DecodeExpandString(encoded string) (string, error) {
	body, ok := strings.CutPrefix(encoded, "hex(2):")
	if !ok {
		return "", errors.Errorf("not a hex(2) value: '%s'", encoded)
	}
	raw, err := parseHexBytes(body)
	if err != nil {
		return "", err
	}
	if len(raw) < 2 || raw[len(raw)-1] != 0 || raw[len(raw)-2] != 0 {
		return "", errors.New("expand string is not null terminated")
	}
	return decodeUTF16(raw[:len(raw)-2])
}

// DecodeMultiString reverses EncodeMultiString.
func DecodeMultiString(encoded string) ([]string, error) {
	body, ok := strings.CutPrefix(encoded, "hex(7):")
	if !ok {
		return nil, errors.Errorf("not a hex(7) value: '%s'", encoded)
	}
	raw, err := parseHexBytes(body)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 || len(raw)%2 != 0 || raw[len(raw)-1] != 0 || raw[len(raw)-2] != 0 {
		return nil, errors.New("multi string is not double-null terminated")
	}
	raw = raw[:len(raw)-2]

	items := []string{}
	start := 0
	for i := 0; i+1 < len(raw); i += 2 {
		if raw[i] == 0 && raw[i+1] == 0 {
			s, err := decodeUTF16(raw[start:i])
			if err != nil {
				return nil, err
			}
			items = append(items, s)
			start = i + 2
		}
	}
	if start != len(raw) {
		return nil, errors.New("multi string element is not null terminated")
	}
	return items, nil
}

// Entry is one named value under a key. An empty name is the default value.
type Entry struct {
	Name  string
	Value Value
}

type Key struct {
	Path    string
	Entries []Entry
}

// RegistryPatch is an ordered set of keys to merge into a hive.
type RegistryPatch struct {
	Keys []Key
}

// AddKey appends a key, or extends it when the path is already present so a
// patch never carries the same key twice.
func (p *RegistryPatch) AddKey(path string, entries ...Entry) {
	for i := range p.Keys {
		if strings.EqualFold(p.Keys[i].Path, path) {
			p.Keys[i].Entries = append(p.Keys[i].Entries, entries...)
			return
		}
	}
	p.Keys = append(p.Keys, Key{Path: path, Entries: entries})
}

// CheckParentOrder verifies that any key whose parent is also in the patch
// comes after that parent. hivexregedit refuses children of missing keys.
func (p *RegistryPatch) CheckParentOrder() error {
	seen := make(map[string]bool, len(p.Keys))
	inPatch := make(map[string]bool, len(p.Keys))
	for _, k := range p.Keys {
		inPatch[strings.ToLower(k.Path)] = true
	}
	for _, k := range p.Keys {
		path := strings.ToLower(k.Path)
		if i := strings.LastIndex(path, `\`); i > 0 {
			parent := path[:i]
			if inPatch[parent] && !seen[parent] {
				return errors.Errorf("key '%s' precedes its parent", k.Path)
			}
		}
		seen[path] = true
	}
	return nil
}

// Render produces the .reg document.
func (p *RegistryPatch) Render() (string, error) {
	var sb strings.Builder
	sb.WriteString(RegFileHeader)
	sb.WriteString("\n\n")
	for _, k := range p.Keys {
		sb.WriteString("[" + k.Path + "]\n")
		for _, e := range k.Entries {
			v, err := e.Value.Encode()
			if err != nil {
				return "", errors.Wrapf(err, "key '%s' value '%s'", k.Path, e.Name)
			}
			name := "@"
			if e.Name != "" {
				name = encodeLiteral(e.Name)
			}
			sb.WriteString(name + "=" + v + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Split returns one single-key patch per key, in order.
func (p *RegistryPatch) Split() []*RegistryPatch {
	out := make([]*RegistryPatch, 0, len(p.Keys))
	for _, k := range p.Keys {
		out = append(out, &RegistryPatch{Keys: []Key{k}})
	}
	return out
}

// ParseRegFile reads a .reg document using the value notations this package
// renders.
func ParseRegFile(text string) (*RegistryPatch, error) {
	scanner := bufio.NewScanner(strings.NewReader(strings.TrimPrefix(text, "\ufeff")))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	patch := &RegistryPatch{}
	var current *Key
	headerSeen := false
	pending := ""
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if pending != "" {
			line = pending + strings.TrimSpace(line)
			pending = ""
		}
		if strings.HasSuffix(line, `\`) && !strings.HasPrefix(strings.TrimSpace(line), "[") {
			pending = strings.TrimSuffix(line, `\`)
			continue
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, ";"):
			continue
		case !headerSeen:
			if trimmed != RegFileHeader {
				return nil, errors.Errorf("line %d: missing '%s' header", lineNo, RegFileHeader)
			}
			headerSeen = true
		case strings.HasPrefix(trimmed, "["):
			if !strings.HasSuffix(trimmed, "]") {
				return nil, errors.Errorf("line %d: unterminated key", lineNo)
			}
			path := trimmed[1 : len(trimmed)-1]
			if strings.HasPrefix(path, "-") {
				return nil, errors.Errorf("line %d: key deletion is not supported", lineNo)
			}
			patch.Keys = append(patch.Keys, Key{Path: path})
			current = &patch.Keys[len(patch.Keys)-1]
		default:
			if current == nil {
				return nil, errors.Errorf("line %d: value outside of a key", lineNo)
			}
			entry, err := parseEntry(trimmed)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
			current.Entries = append(current.Entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !headerSeen {
		return nil, errors.New("empty registry file")
	}
	return patch, nil
}

func parseEntry(line string) (Entry, error) {
	var name, rest string
	if strings.HasPrefix(line, "@=") {
		rest = line[2:]
	} else {
		n, remainder, err := readQuoted(line)
		if err != nil {
			return Entry{}, err
		}
		if !strings.HasPrefix(remainder, "=") {
			return Entry{}, errors.Errorf("expected '=' after value name '%s'", n)
		}
		name, rest = n, remainder[1:]
	}

	switch {
	case strings.HasPrefix(rest, `"`):
		s, remainder, err := readQuoted(rest)
		if err != nil {
			return Entry{}, err
		}
		if strings.TrimSpace(remainder) != "" {
			return Entry{}, errors.Errorf("trailing data after string value '%s'", name)
		}
		return Entry{Name: name, Value: String(s)}, nil
	case strings.HasPrefix(rest, "dword:"):
		v, err := strconv.ParseUint(strings.TrimPrefix(rest, "dword:"), 16, 32)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "dword value '%s'", name)
		}
		return Entry{Name: name, Value: DWord(uint32(v))}, nil
	case strings.HasPrefix(rest, "hex(2):"):
		s, err := DecodeExpandString(rest)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "value '%s'", name)
		}
		return Entry{Name: name, Value: ExpandString(s)}, nil
	case strings.HasPrefix(rest, "hex(7):"):
		items, err := DecodeMultiString(rest)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "value '%s'", name)
		}
		return Entry{Name: name, Value: MultiString(items...)}, nil
	}
	return Entry{}, errors.Errorf("unsupported value notation for '%s'", name)
}

// readQuoted consumes a .reg quoted string from the start of s.
func readQuoted(s string) (string, string, error) {
	if !strings.HasPrefix(s, `"`) {
		return "", "", errors.Errorf("expected quoted string at '%s'", s)
	}
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", "", errors.New("dangling escape")
			}
			i++
			sb.WriteByte(s[i])
		case '"':
			return sb.String(), s[i+1:], nil
		default:
			sb.WriteByte(s[i])
		}
	}
	return "", "", errors.New("unterminated string")
}
