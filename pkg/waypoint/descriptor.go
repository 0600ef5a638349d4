package waypoint

import (
	werrors "github.com/toyz/waypoint/internal/errors"
)

// Source names where a handler parameter is read from.
type Source string

const (
	SourceQuery   Source = "query"
	SourcePath    Source = "path"
	SourceHeader  Source = "header"
	SourceBody    Source = "body"
	SourceContext Source = "context"
	SourceSession Source = "session"
	SourceRequest Source = "request"
)

// MountType decides how a scope's middleware or guards combine with the
// set inherited from the enclosing scope.
type MountType int

const (
	// MountIntegrate appends to the inherited set.
	MountIntegrate MountType = iota
	// MountOverride discards the inherited set and starts fresh.
	MountOverride
)

func (m MountType) String() string {
	if m == MountOverride {
		return "OVERRIDE"
	}
	return "INTEGRATE"
}

// ControllerDescriptor is the class-level declaration of a controller.
type ControllerDescriptor struct {
	Name        string
	Path        string
	Version     string
	Description string

	loc werrors.SourceLocation
}

// ActionDescriptor is the declaration of one handler method.
type ActionDescriptor struct {
	Name        string
	Method      string
	Path        string
	Deprecated  bool
	Version     string
	Description string

	loc werrors.SourceLocation
}

// ParamDescriptor declares one handler parameter, keyed by its index.
type ParamDescriptor struct {
	Index    int
	Name     string
	Source   Source
	Type     any // schema expression, see schema.Registry.Normalize
	Required bool
	Root     bool
	Default  any
	Example  any

	requiredSet bool
}

// ResponseDescriptor declares the body produced for one status code.
type ResponseDescriptor struct {
	Status      int
	Type        any
	Strict      bool
	Mime        string
	Headers     map[string]string
	Description string
}

// MiddlewarePack is an ordered group of middleware declared together.
// When Filter is set and returns false the pack is skipped for the request.
type MiddlewarePack struct {
	Middlewares []MiddlewareFunc
	Names       []string
	Filter      func(RequestContext) bool
	Mount       MountType
}
