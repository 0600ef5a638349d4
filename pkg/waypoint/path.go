package waypoint

import (
	"fmt"
	"regexp"
	"strings"
)

// PathPartType represents the type of path part
type PathPartType int

const (
	StaticPart PathPartType = iota
	ParameterPart
	WildcardPart
)

// PathPart represents a single segment of a route path
type PathPart struct {
	Type      PathPartType
	Value     string // For static parts: the literal text, for parameters: the parameter name
	ParamType string // For {name:type} parameters: the type, empty for untyped
}

// Path is a route path. Parameters are written ":name", "{name}" or
// "{name:type}"; a "*" segment (or "{*}") matches the rest of the path.
type Path string

// paramTypePatterns restricts what a typed parameter matches.
var paramTypePatterns = map[string]string{
	"int":     `-?[0-9]+`,
	"integer": `-?[0-9]+`,
	"uuid":    `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`,
	"string":  `[^/]+`,
	"":        `[^/]+`,
}

// Raw returns the original path
func (p Path) Raw() string {
	return string(p)
}

// Parts parses the path into static, parameter and wildcard parts
func (p Path) Parts() ([]PathPart, error) {
	path := string(p)
	var parts []PathPart

	i := 0
	for i < len(path) {
		switch {
		case path[i] == '{':
			j := strings.IndexByte(path[i:], '}')
			if j < 0 {
				return nil, fmt.Errorf("path %q: unclosed '{' at offset %d", path, i)
			}
			content := path[i+1 : i+j]
			if content == "*" {
				parts = append(parts, PathPart{Type: WildcardPart, Value: "*"})
			} else {
				name, typ, _ := strings.Cut(content, ":")
				if name == "" {
					return nil, fmt.Errorf("path %q: empty parameter name", path)
				}
				parts = append(parts, PathPart{Type: ParameterPart, Value: name, ParamType: typ})
			}
			i += j + 1
		case path[i] == ':' && (i == 0 || path[i-1] == '/'):
			j := i + 1
			for j < len(path) && path[j] != '/' {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("path %q: empty parameter name", path)
			}
			parts = append(parts, PathPart{Type: ParameterPart, Value: path[i+1 : j]})
			i = j
		case path[i] == '*' && (i == 0 || path[i-1] == '/'):
			parts = append(parts, PathPart{Type: WildcardPart, Value: "*"})
			i++
		case path[i] == '}':
			return nil, fmt.Errorf("path %q: unexpected '}' at offset %d", path, i)
		default:
			start := i
			for i < len(path) && path[i] != '{' && path[i] != '}' &&
				!((path[i] == ':' || path[i] == '*') && path[i-1] == '/') {
				i++
			}
			parts = append(parts, PathPart{Type: StaticPart, Value: path[start:i]})
		}
	}

	return parts, nil
}

// CompiledPath is a path compiled once into an anchored pattern.
type CompiledPath struct {
	Path       string
	Pattern    *regexp.Regexp
	ParamNames []string
}

// Compile turns the path into an anchored regular expression. A trailing
// slash is tolerated. Wildcards bind under the name "*".
func (p Path) Compile() (*CompiledPath, error) {
	parts, err := p.Parts()
	if err != nil {
		return nil, err
	}

	var (
		b     strings.Builder
		names []string
		seen  = make(map[string]bool)
	)
	b.WriteString("^")
	for _, part := range parts {
		switch part.Type {
		case StaticPart:
			b.WriteString(regexp.QuoteMeta(part.Value))
		case ParameterPart:
			if seen[part.Value] {
				return nil, fmt.Errorf("path %q: duplicate parameter %q", p, part.Value)
			}
			seen[part.Value] = true
			pattern, ok := paramTypePatterns[part.ParamType]
			if !ok {
				return nil, fmt.Errorf("path %q: unknown parameter type %q", p, part.ParamType)
			}
			b.WriteString("(" + pattern + ")")
			names = append(names, part.Value)
		case WildcardPart:
			b.WriteString("(.*)")
			names = append(names, "*")
		}
	}
	pattern := strings.TrimSuffix(b.String(), "/") + "/?$"

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", p, err)
	}
	return &CompiledPath{Path: string(p), Pattern: re, ParamNames: names}, nil
}

// Match reports whether path matches and binds the parameters by position.
func (c *CompiledPath) Match(path string) (map[string]string, bool) {
	m := c.Pattern.FindStringSubmatch(path)
	if m == nil {
		return nil, false
	}
	params := make(map[string]string, len(c.ParamNames))
	for i, name := range c.ParamNames {
		params[name] = m[i+1]
	}
	return params, true
}

// JoinPaths joins path segments with single slashes. The result always
// starts with "/" and never ends with one, except for the root path.
func JoinPaths(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return "/" + strings.Join(parts, "/")
}
