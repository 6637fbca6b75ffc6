package service

import (
	"sort"
	"strings"

	"github.com/hupe1980/xweb/core"
)

// AssistEntry is one content assist proposal. Prefix is the text before the
// caret that the proposal replaces.
type AssistEntry struct {
	Proposal string `json:"proposal"`
	Prefix   string `json:"prefix"`
}

// AssistResult is returned by the assist service.
type AssistResult struct {
	StateID int64         `json:"stateId"`
	Entries []AssistEntry `json:"entries"`
}

// Assist returns the content assist service. Proposals are the keywords plus
// every identifier of the document that starts with the word before the
// caret, sorted and without duplicates. A fullText parameter is analysed
// instead of the cached text without being committed.
func Assist(keywords ...string) core.Service {
	kw := append([]string(nil), keywords...)

	return NewFunc("assist", func(sc *core.ServiceContext) (any, error) {
		text := textOf(sc.Document)
		if full, ok := sc.Param(ParamFullText); ok {
			text = full
		}
		runes := []rune(text)

		caret, err := caretOffset(sc, runes)
		if err != nil {
			return nil, err
		}

		start, _ := wordAt(runes, caret)
		prefix := string(runes[start:caret])

		seen := map[string]struct{}{}
		candidates := make([]string, 0, len(kw))
		add := func(w string) {
			if w == prefix || !strings.HasPrefix(w, prefix) {
				return
			}
			if _, dup := seen[w]; dup {
				return
			}
			seen[w] = struct{}{}
			candidates = append(candidates, w)
		}

		for _, w := range kw {
			add(w)
		}
		for i, r := range words(runes) {
			if i%256 == 0 {
				if err := sc.Checkpoint(); err != nil {
					return nil, err
				}
			}
			if r.Offset == start {
				// the word being typed
				continue
			}
			add(string(runes[r.Offset : r.Offset+r.Length]))
		}
		sort.Strings(candidates)

		entries := make([]AssistEntry, 0, len(candidates))
		for _, c := range candidates {
			entries = append(entries, AssistEntry{Proposal: c, Prefix: prefix})
		}

		return AssistResult{StateID: sc.Document.Version, Entries: entries}, nil
	})
}
