package service

import (
	"github.com/hupe1980/xweb/core"
)

// Update returns the update service. It accepts either
//
//	fullText (or text)                         replace the whole text
//	deltaText, deltaOffset, deltaReplaceLength replace a range
//
// Offsets count characters. A document that was never loaded starts empty.
// Every accepted update marks the document dirty.
func Update() core.Service {
	return NewMutatingFunc("update", func(sc *core.ServiceContext) (any, error) {
		text, err := applyUpdate(sc, textOf(sc.Document))
		if err != nil {
			return nil, err
		}
		if err := sc.Checkpoint(); err != nil {
			return nil, err
		}

		sc.SetArtifact(&Document{Text: text})
		sc.SetDirty(true)

		return StateResult{StateID: sc.NextVersion()}, nil
	})
}

// applyUpdate computes the new text from the update parameters of sc.
func applyUpdate(sc *core.ServiceContext, current string) (string, error) {
	if full, ok := sc.Param(ParamFullText); ok {
		return full, nil
	}
	if full, ok := sc.Param(ParamText); ok {
		return full, nil
	}

	delta, ok := sc.Param(ParamDeltaText)
	if !ok {
		return "", core.NewError(core.KindInvalidRequest, "update requires %s or %s", ParamFullText, ParamDeltaText)
	}

	runes := []rune(current)
	offset, err := sc.IntParam(ParamDeltaOffset, 0)
	if err != nil {
		return "", err
	}
	length, err := sc.IntParam(ParamDeltaReplaceLength, 0)
	if err != nil {
		return "", err
	}
	if offset < 0 || length < 0 || offset+length > len(runes) {
		return "", core.NewError(core.KindInvalidRequest,
			"delta [%d, %d) is outside the document (length %d)", offset, offset+length, len(runes))
	}

	out := make([]rune, 0, len(runes)-length+len(delta))
	out = append(out, runes[:offset]...)
	out = append(out, []rune(delta)...)
	out = append(out, runes[offset+length:]...)
	return string(out), nil
}
