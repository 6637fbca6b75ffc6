package service

import (
	"strings"
	"unicode"

	"github.com/hupe1980/xweb/core"
)

// FormatResult is returned by the format service.
type FormatResult struct {
	StateID       int64  `json:"stateId"`
	FormattedText string `json:"formattedText"`
}

// Format returns the format service. It strips trailing whitespace from every
// line, drops trailing blank lines, and terminates a non-empty text with a
// single newline. The document is only changed when formatting changes the
// text.
func Format() core.Service {
	return NewMutatingFunc("format", func(sc *core.ServiceContext) (any, error) {
		doc, err := requireDocument(sc)
		if err != nil {
			return nil, err
		}

		formatted := FormatText(doc.Text)
		if err := sc.Checkpoint(); err != nil {
			return nil, err
		}

		if formatted != doc.Text {
			sc.SetArtifact(&Document{Text: formatted})
			sc.SetDirty(true)
		}

		return FormatResult{StateID: sc.NextVersion(), FormattedText: formatted}, nil
	})
}

// FormatText applies the whitespace normalization of the format service.
func FormatText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
