package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hupe1980/xweb/core"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Issue is a single diagnostic. Line and Column are 1-based; Offset counts
// characters from the start of the document.
type Issue struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	Offset      int      `json:"offset"`
	Length      int      `json:"length"`
}

// ValidationResult is returned by the validate service.
type ValidationResult struct {
	Issues []Issue `json:"issues"`
}

// Validator computes diagnostics for a document text. Implementations must
// honour ctx cancellation during long analyses.
type Validator interface {
	Validate(ctx context.Context, text string) ([]Issue, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, text string) ([]Issue, error)

// Validate implements Validator.
func (f ValidatorFunc) Validate(ctx context.Context, text string) ([]Issue, error) {
	return f(ctx, text)
}

// Validate returns the validate service backed by v. A nil v uses
// BracketValidator.
func Validate(v Validator) core.Service {
	if v == nil {
		v = BracketValidator{}
	}
	return NewFunc("validate", func(sc *core.ServiceContext) (any, error) {
		text := textOf(sc.Document)
		if text == "" {
			return ValidationResult{Issues: []Issue{}}, nil
		}
		issues, err := v.Validate(sc.Context, text)
		if err != nil {
			return nil, err
		}
		if issues == nil {
			issues = []Issue{}
		}
		return ValidationResult{Issues: issues}, nil
	})
}

// BracketValidator reports unbalanced (), [] and {} as errors and trailing
// whitespace as warnings.
type BracketValidator struct{}

var closing = map[rune]rune{')': '(', ']': '[', '}': '{'}

type openBracket struct {
	r                    rune
	line, column, offset int
}

// Validate implements Validator.
func (BracketValidator) Validate(ctx context.Context, text string) ([]Issue, error) {
	var (
		issues []Issue
		stack  []openBracket
		offset int
	)

	for i, line := range strings.Split(text, "\n") {
		if err := ctx.Err(); err != nil {
			return nil, core.WrapError(core.KindCancelled, "validation cancelled", err)
		}
		lineNo := i + 1
		runes := []rune(line)

		for col, r := range runes {
			switch r {
			case '(', '[', '{':
				stack = append(stack, openBracket{r: r, line: lineNo, column: col + 1, offset: offset + col})
			case ')', ']', '}':
				want := closing[r]
				if len(stack) == 0 || stack[len(stack)-1].r != want {
					issues = append(issues, Issue{
						Description: fmt.Sprintf("unexpected '%c'", r),
						Severity:    SeverityError,
						Line:        lineNo,
						Column:      col + 1,
						Offset:      offset + col,
						Length:      1,
					})
					continue
				}
				stack = stack[:len(stack)-1]
			}
		}

		trimmed := strings.TrimRightFunc(line, unicode.IsSpace)
		if n := len([]rune(trimmed)); n < len(runes) {
			issues = append(issues, Issue{
				Description: "trailing whitespace",
				Severity:    SeverityWarning,
				Line:        lineNo,
				Column:      n + 1,
				Offset:      offset + n,
				Length:      len(runes) - n,
			})
		}

		offset += len(runes) + 1
	}

	for _, open := range stack {
		issues = append(issues, Issue{
			Description: fmt.Sprintf("unclosed '%c'", open.r),
			Severity:    SeverityError,
			Line:        open.line,
			Column:      open.column,
			Offset:      open.offset,
			Length:      1,
		})
	}

	return issues, nil
}
