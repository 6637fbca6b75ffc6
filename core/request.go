package core

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Reserved request parameter names. Every other key is passed through to the
// service as a named parameter.
const (
	ParamSessionID            = "sessionId"
	ParamResourceID           = "resourceId"
	ParamServiceType          = "serviceType"
	ParamRequiredStateVersion = "requiredStateVersion"
)

// Request is an incoming service request. It is immutable once received;
// Params must not be modified by services.
type Request struct {
	SessionID            string            `json:"sessionId" validate:"required"`
	ResourceID           string            `json:"resourceId" validate:"required"`
	ServiceType          string            `json:"serviceType" validate:"required"`
	Params               map[string]string `json:"params,omitempty"`
	RequiredStateVersion *int64            `json:"requiredStateVersion,omitempty" validate:"omitempty,gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ParseRequest builds a Request from transport agnostic key/value
// parameters. Reserved keys populate the typed fields; the remaining keys
// become service parameters. The result is validated.
func ParseRequest(raw map[string]string) (Request, error) {
	req := Request{
		SessionID:   raw[ParamSessionID],
		ResourceID:  raw[ParamResourceID],
		ServiceType: raw[ParamServiceType],
		Params:      make(map[string]string, len(raw)),
	}

	for k, v := range raw {
		switch k {
		case ParamSessionID, ParamResourceID, ParamServiceType, ParamRequiredStateVersion:
			continue
		}
		req.Params[k] = v
	}

	if s, ok := raw[ParamRequiredStateVersion]; ok && s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Request{}, NewError(KindInvalidRequest, "%s must be an integer, got %q", ParamRequiredStateVersion, s)
		}
		req.RequiredStateVersion = &v
	}

	if err := req.Validate(); err != nil {
		return Request{}, err
	}

	return req, nil
}

// Validate checks that the required fields are present.
func (r Request) Validate() error {
	err := validate.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return WrapError(KindInvalidRequest, "invalid request", err)
	}

	missing := make([]string, 0, len(verrs))
	invalid := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		} else {
			invalid = append(invalid, fe.Field())
		}
	}
	sort.Strings(missing)
	sort.Strings(invalid)

	switch {
	case len(missing) > 0:
		return NewError(KindInvalidRequest, "missing required parameters: %s", strings.Join(missing, ", "))
	default:
		return NewError(KindInvalidRequest, "invalid parameters: %s", strings.Join(invalid, ", "))
	}
}

// Param returns a named service parameter.
func (r Request) Param(name string) (string, bool) {
	v, ok := r.Params[name]
	return v, ok
}

// String returns a compact description for logs.
func (r Request) String() string {
	if r.RequiredStateVersion != nil {
		return fmt.Sprintf("%s %s/%s@%d", r.ServiceType, r.SessionID, r.ResourceID, *r.RequiredStateVersion)
	}
	return fmt.Sprintf("%s %s/%s", r.ServiceType, r.SessionID, r.ResourceID)
}
