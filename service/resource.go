package service

import (
	"github.com/hupe1980/xweb/core"
)

// ResourceResult is returned by load and revert.
type ResourceResult struct {
	FullText string `json:"fullText"`
	Dirty    bool   `json:"dirty"`
	StateID  int64  `json:"stateId"`
}

// StateResult is returned by services that only report the new state.
type StateResult struct {
	StateID int64 `json:"stateId"`
}

// Load returns the load service. A document that is already cached in the
// session is returned as is; otherwise its persisted source is loaded.
func Load() core.Service {
	return NewMutatingFunc("load", func(sc *core.ServiceContext) (any, error) {
		if doc := DocumentOf(sc.Document); doc != nil {
			return ResourceResult{FullText: doc.Text, Dirty: sc.Document.Dirty, StateID: sc.Document.Version}, nil
		}
		return loadSource(sc)
	})
}

// Revert returns the revert service, which reloads the persisted source and
// discards unsaved edits.
func Revert() core.Service {
	return NewMutatingFunc("revert", loadSource)
}

func loadSource(sc *core.ServiceContext) (any, error) {
	data, err := sc.LoadSource()
	if err != nil {
		return nil, err
	}
	if err := sc.Checkpoint(); err != nil {
		return nil, err
	}

	doc := &Document{Text: string(data)}
	sc.SetArtifact(doc)
	sc.SetDirty(false)

	return ResourceResult{FullText: doc.Text, Dirty: false, StateID: sc.NextVersion()}, nil
}

// Save returns the save service, which persists the cached text and clears
// the dirty flag.
func Save() core.Service {
	return NewMutatingFunc("save", func(sc *core.ServiceContext) (any, error) {
		doc, err := requireDocument(sc)
		if err != nil {
			return nil, err
		}
		if err := sc.SaveSource([]byte(doc.Text)); err != nil {
			return nil, err
		}
		if sc.Document.Dirty {
			sc.SetDirty(false)
		}
		return StateResult{StateID: sc.NextVersion()}, nil
	})
}
