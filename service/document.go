package service

import (
	"unicode"
	"unicode/utf8"

	"github.com/hupe1980/xweb/core"
)

// Parameter names understood by the built-in services.
const (
	ParamFullText           = "fullText"
	ParamText               = "text"
	ParamDeltaText          = "deltaText"
	ParamDeltaOffset        = "deltaOffset"
	ParamDeltaReplaceLength = "deltaReplaceLength"
	ParamCaretOffset        = "caretOffset"
)

// Document is the artifact cached by the built-in services. It is treated as
// immutable; services stage a new Document instead of modifying one.
type Document struct {
	Text string
}

// Len returns the length of the text in characters.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return utf8.RuneCountInString(d.Text)
}

// DocumentOf returns the Document cached in snap, or nil when the document
// has not been loaded or holds a foreign artifact type.
func DocumentOf(snap core.DocumentSnapshot) *Document {
	doc, _ := snap.Artifact.(*Document)
	return doc
}

// textOf returns the cached text, "" when nothing is cached.
func textOf(snap core.DocumentSnapshot) string {
	if doc := DocumentOf(snap); doc != nil {
		return doc.Text
	}
	return ""
}

// requireDocument returns the cached Document or an InvalidRequest error
// asking the client to load the resource first.
func requireDocument(sc *core.ServiceContext) (*Document, error) {
	doc := DocumentOf(sc.Document)
	if doc == nil {
		return nil, core.NewError(core.KindInvalidRequest, "resource %s has not been loaded", sc.Request.ResourceID)
	}
	return doc, nil
}

// caretOffset reads the caretOffset parameter, defaulting to the end of the
// text, and checks it against the text length in characters.
func caretOffset(sc *core.ServiceContext, runes []rune) (int, error) {
	off, err := sc.IntParam(ParamCaretOffset, len(runes))
	if err != nil {
		return 0, err
	}
	if off < 0 || off > len(runes) {
		return 0, core.NewError(core.KindInvalidRequest, "%s %d is outside the document (length %d)", ParamCaretOffset, off, len(runes))
	}
	return off, nil
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordAt returns the bounds of the identifier touching offset. start == end
// when there is none.
func wordAt(runes []rune, offset int) (start, end int) {
	start, end = offset, offset
	for start > 0 && isWordRune(runes[start-1]) {
		start--
	}
	for end < len(runes) && isWordRune(runes[end]) {
		end++
	}
	return start, end
}

// words returns the identifiers of runes with their start offsets.
func words(runes []rune) []region {
	var out []region
	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			i++
			continue
		}
		j := i
		for j < len(runes) && isWordRune(runes[j]) {
			j++
		}
		out = append(out, region{Offset: i, Length: j - i})
		i = j
	}
	return out
}

type region struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}
