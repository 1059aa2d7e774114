package assembly

import (
	"regexp"
	"strings"
)

var codeFence = regexp.MustCompile("(?i)```(?:json)?")

// Fragment is one completion cleaned into a run of comma separated JSON
// objects that can be spliced into an enclosing array.
type Fragment struct {
	Text string
	// Objects counts the complete top-level objects kept.
	Objects int
	// Trimmed is set when an unterminated trailing object was discarded.
	Trimmed bool
	// Orphaned is set when the tail of an object begun in an earlier
	// completion was discarded from the front of this one.
	Orphaned bool
}

// Empty reports whether the fragment made no net progress.
func (f Fragment) Empty() bool {
	return f.Text == ""
}

// Sanitize turns raw completion text into a splice-able fragment.
//
// Code fences are removed first. The remaining text is scanned once,
// tracking object depth and string literals, so braces and brackets inside
// string values never count. Outside of objects only whitespace and single
// commas between objects survive: stray array brackets and prose are
// dropped, a missing comma between adjacent objects is inserted, and a
// closing brace with no opener discards the orphaned text before it. An
// object still open at the end of the text is cut off entirely. A non-empty
// result always ends with exactly one comma.
func Sanitize(raw string) Fragment {
	text := codeFence.ReplaceAllString(raw, "")
	s := scanner{}
	s.scan(text)

	out := strings.TrimSpace(s.out.String())
	if out != "" && !strings.HasSuffix(out, ",") {
		out += ","
	}
	return Fragment{
		Text:     out,
		Objects:  s.objects,
		Trimmed:  s.trimmed,
		Orphaned: s.orphaned,
	}
}

type scanner struct {
	out      strings.Builder
	depth    int
	inString bool
	escaped  bool
	// objStart is the output offset of the currently open top-level object.
	objStart int
	// lastEnd is the output offset just past the last complete top-level object.
	lastEnd int
	// last is the last significant byte written outside any object.
	last     byte
	objects  int
	trimmed  bool
	orphaned bool
}

func (s *scanner) scan(text string) {
	for i := 0; i < len(text); i++ {
		c := text[i]
		if s.depth > 0 {
			s.inObject(c)
			continue
		}
		s.between(c)
	}
	if s.depth > 0 {
		s.truncate(s.objStart)
		s.trimmed = true
		s.depth = 0
		s.inString = false
	}
}

func (s *scanner) inObject(c byte) {
	s.out.WriteByte(c)
	if s.inString {
		switch {
		case s.escaped:
			s.escaped = false
		case c == '\\':
			s.escaped = true
		case c == '"':
			s.inString = false
		}
		return
	}
	switch c {
	case '"':
		s.inString = true
	case '{':
		s.depth++
	case '}':
		s.depth--
		if s.depth == 0 {
			s.objects++
			s.lastEnd = s.out.Len()
			s.last = '}'
		}
	}
}

func (s *scanner) between(c byte) {
	switch c {
	case '{':
		if s.last == '}' {
			gap := s.out.String()[s.lastEnd:]
			s.truncate(s.lastEnd)
			s.out.WriteByte(',')
			s.out.WriteString(gap)
			s.last = ','
		}
		s.objStart = s.out.Len()
		s.out.WriteByte(c)
		s.depth = 1
	case '}':
		s.truncate(s.lastEnd)
		s.orphaned = true
	case ',':
		if s.last == '}' {
			s.out.WriteByte(c)
			s.last = ','
		}
	case ' ', '\t', '\n', '\r':
		if s.out.Len() > 0 {
			s.out.WriteByte(c)
		}
	}
}

// truncate drops everything written at or after offset n.
func (s *scanner) truncate(n int) {
	kept := s.out.String()[:n]
	s.out.Reset()
	s.out.WriteString(kept)
	s.last = lastSignificant(kept)
}

func lastSignificant(text string) byte {
	trimmed := strings.TrimRight(text, " \t\n\r")
	if trimmed == "" {
		return 0
	}
	return trimmed[len(trimmed)-1]
}
