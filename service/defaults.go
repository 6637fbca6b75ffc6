package service

import (
	"fmt"

	"github.com/hupe1980/xweb/core"
)

// Registrar is satisfied by registry.Registry.
type Registrar interface {
	Register(name string, svc core.Service) error
}

// DefaultOptions configures RegisterDefaults.
type DefaultOptions struct {
	// Validator backs the validate service. Defaults to BracketValidator.
	Validator Validator
	// Keywords are always offered by the assist service.
	Keywords []string
}

// Defaults returns the built-in services keyed by service type.
func Defaults(optFns ...func(o *DefaultOptions)) map[string]core.Service {
	opts := DefaultOptions{Validator: BracketValidator{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	return map[string]core.Service{
		"load":        Load(),
		"revert":      Revert(),
		"save":        Save(),
		"update":      Update(),
		"format":      Format(),
		"validate":    Validate(opts.Validator),
		"assist":      Assist(opts.Keywords...),
		"occurrences": Occurrences(),
	}
}

// RegisterDefaults registers every built-in service with r.
func RegisterDefaults(r Registrar, optFns ...func(o *DefaultOptions)) error {
	for name, svc := range Defaults(optFns...) {
		if err := r.Register(name, svc); err != nil {
			return fmt.Errorf("register default services: %w", err)
		}
	}
	return nil
}
