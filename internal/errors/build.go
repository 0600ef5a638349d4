package errors

import (
	"fmt"
	"strings"
)

// RegistrationError represents an error during controller or middleware registration
type RegistrationError struct {
	*BaseError
	ComponentType string
	ComponentName string
	Reason        string
}

// NewRegistrationError creates a new registration error
func NewRegistrationError(componentType, componentName, reason string) *RegistrationError {
	message := fmt.Sprintf("failed to register %s '%s': %s", componentType, componentName, reason)

	return &RegistrationError{
		BaseError:     New(RegistrationErrorCode, message),
		ComponentType: componentType,
		ComponentName: componentName,
		Reason:        reason,
	}
}

// WithLocation adds location information to the error
func (e *RegistrationError) WithLocation(loc SourceLocation) *RegistrationError {
	e.BaseError.WithLocation(loc)
	return e
}

// WithSuggestion adds a helpful suggestion for fixing the error
func (e *RegistrationError) WithSuggestion(suggestion string) *RegistrationError {
	e.BaseError.WithSuggestion(suggestion)
	return e
}

// RouteConflictError is raised when more than one handler binds the same method and path.
type RouteConflictError struct {
	*BaseError
	Method   string
	Path     string
	Handlers []string
}

// NewRouteConflictError names every handler bound to method+path.
func NewRouteConflictError(method, path string, handlers []string) *RouteConflictError {
	message := fmt.Sprintf("route %s %s is bound by multiple handlers: %s", method, path, strings.Join(handlers, ", "))

	err := &RouteConflictError{
		BaseError: New(RouteConflictErrorCode, message),
		Method:    method,
		Path:      path,
		Handlers:  handlers,
	}
	err.WithContext("method", method).
		WithContext("path", path).
		WithSuggestion("give each action a distinct path or HTTP method")
	return err
}

// SchemaError represents a schema expression that could not be resolved
type SchemaError struct {
	*BaseError
	Target string
}

// NewSchemaError wraps a normalizer failure for the named declaration target.
func NewSchemaError(target string, cause error) *SchemaError {
	return &SchemaError{
		BaseError: Wrap(SchemaErrorCode, fmt.Sprintf("invalid schema for %s", target), cause),
		Target:    target,
	}
}

// WithLocation adds location information to the error
func (e *SchemaError) WithLocation(loc SourceLocation) *SchemaError {
	e.BaseError.WithLocation(loc)
	return e
}

// BindingError is raised when a handler signature does not fit its declarations.
type BindingError struct {
	*BaseError
	Handler string
}

// NewBindingError creates a handler binding error
func NewBindingError(handler, reason string) *BindingError {
	return &BindingError{
		BaseError: New(BindingErrorCode, fmt.Sprintf("cannot bind handler %s: %s", handler, reason)),
		Handler:   handler,
	}
}

// WithLocation adds location information to the error
func (e *BindingError) WithLocation(loc SourceLocation) *BindingError {
	e.BaseError.WithLocation(loc)
	return e
}

// WrapConfigurationError wraps configuration-related errors
func WrapConfigurationError(configType, operation string, cause error) *BaseError {
	message := fmt.Sprintf("failed to %s configuration '%s'", operation, configType)
	return Wrap(ConfigurationErrorCode, message, cause).
		WithContext("config_type", configType).
		WithContext("operation", operation)
}

// WrapDependencyError wraps dependency injection errors
func WrapDependencyError(dependencyType, dependencyName string, cause error) *BaseError {
	message := fmt.Sprintf("failed to resolve dependency '%s' of type '%s'", dependencyName, dependencyType)
	return Wrap(DependencyErrorCode, message, cause).
		WithContext("dependency_type", dependencyType).
		WithContext("dependency_name", dependencyName)
}
