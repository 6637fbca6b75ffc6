package service

import (
	"github.com/hupe1980/xweb/core"
)

// OccurrencesResult is returned by the occurrences service.
type OccurrencesResult struct {
	StateID int64    `json:"stateId"`
	Word    string   `json:"word,omitempty"`
	Regions []region `json:"regions"`
}

// Occurrences returns the mark occurrences service. It reports every whole
// word occurrence of the identifier at caretOffset.
func Occurrences() core.Service {
	return NewFunc("occurrences", func(sc *core.ServiceContext) (any, error) {
		runes := []rune(textOf(sc.Document))
		caret, err := caretOffset(sc, runes)
		if err != nil {
			return nil, err
		}

		res := OccurrencesResult{StateID: sc.Document.Version, Regions: []region{}}

		start, end := wordAt(runes, caret)
		if start == end {
			return res, nil
		}
		res.Word = string(runes[start:end])

		for _, r := range words(runes) {
			if r.Length == end-start && string(runes[r.Offset:r.Offset+r.Length]) == res.Word {
				res.Regions = append(res.Regions, r)
			}
		}
		return res, nil
	})
}
