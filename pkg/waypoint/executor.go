package waypoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strings"

	"github.com/toyz/waypoint/pkg/waypoint/schema"
)

// Validator validates and converts values against schemas.
type Validator interface {
	Validate(value any, s *schema.Schema) error
	Coerce(value any, s *schema.Schema) (any, error)
	Serialize(value any, s *schema.Schema, strict bool) (any, error)
}

// Executor invokes one action: it extracts parameters, calls the handler
// and converts the result into a response.
type Executor struct {
	action    *ActionModule
	validator Validator
	bodies    BodyParser
	convert   bool
}

// NewExecutor creates an executor for action.
func NewExecutor(action *ActionModule, validator Validator, bodies BodyParser, convert bool) *Executor {
	return &Executor{action: action, validator: validator, bodies: bodies, convert: convert}
}

// Handle is the terminal HandlerFunc of a route's stack.
func (e *Executor) Handle(ctx RequestContext) error {
	args := make([]reflect.Value, len(e.action.Params))
	for i, p := range e.action.Params {
		arg, err := e.argument(ctx, p)
		if err != nil {
			return err
		}
		args[i] = arg
	}

	out := e.action.handler.Call(args)

	var (
		value    any
		hasValue bool
	)
	switch e.action.results {
	case resultError:
		if err, _ := out[0].Interface().(error); err != nil {
			return err
		}
	case resultValue:
		value, hasValue = out[0].Interface(), true
	case resultValueError:
		if err, _ := out[1].Interface().(error); err != nil {
			return err
		}
		value, hasValue = out[0].Interface(), true
	}

	if !hasValue {
		return ctx.Response().NoContent(http.StatusNoContent)
	}
	return e.respond(ctx, value)
}

func (e *Executor) argument(ctx RequestContext, p *BoundParam) (reflect.Value, error) {
	switch p.implicit {
	case implicitContext:
		return reflect.ValueOf(ctx.Context()), nil
	case implicitRequestContext:
		return reflect.ValueOf(ctx), nil
	}

	raw, err := e.fetch(ctx, p)
	if err != nil {
		return reflect.Value{}, err
	}

	if absent(raw) {
		switch {
		case p.Default != nil:
			raw = p.Default
		case p.Required:
			return reflect.Value{}, ErrBadRequest(fmt.Sprintf("%s is required", p.Name))
		default:
			return reflect.Zero(p.GoType), nil
		}
	}

	if p.Schema != nil {
		if !p.Root {
			raw, err = parseTransport(raw, p.Schema)
			if err != nil {
				return reflect.Value{}, ErrBadRequest(fmt.Sprintf("%s must be valid JSON", p.Name)).WithCause(err)
			}
		}
		raw, err = e.validator.Coerce(raw, p.Schema)
		if err != nil {
			return reflect.Value{}, ErrBadRequest(fmt.Sprintf("%s: %s", paramLabel(p), err.Error())).WithCause(err)
		}
	}

	v, err := bindValue(raw, p.GoType)
	if err != nil {
		return reflect.Value{}, ErrBadRequest(fmt.Sprintf("%s: %s", paramLabel(p), err.Error())).WithCause(err)
	}
	return v, nil
}

func paramLabel(p *BoundParam) string {
	if p.Root {
		return string(p.Source)
	}
	return p.Name
}

// fetch reads the raw value of p from its source.
func (e *Executor) fetch(ctx RequestContext, p *BoundParam) (any, error) {
	switch p.Source {
	case SourceQuery:
		query := ctx.QueryParams()
		if p.Root {
			return valuesMap(query), nil
		}
		values := query[p.Name]
		if len(values) == 0 {
			return nil, nil
		}
		if p.Schema != nil && p.Schema.Type == schema.Array &&
			!(len(values) == 1 && strings.HasPrefix(strings.TrimSpace(values[0]), "[")) {
			items := make([]any, len(values))
			for i, v := range values {
				items[i] = v
			}
			return items, nil
		}
		return values[0], nil

	case SourcePath:
		params := PathParams(ctx)
		if p.Root {
			out := make(map[string]any, len(params))
			for k, v := range params {
				out[k] = v
			}
			return out, nil
		}
		if v, ok := params[p.Name]; ok {
			return v, nil
		}
		return nil, nil

	case SourceHeader:
		if p.Root {
			return valuesMap(ctx.Request().Headers()), nil
		}
		if v := ctx.Request().Header(p.Name); v != "" {
			return v, nil
		}
		return nil, nil

	case SourceBody:
		body, err := parsedBody(ctx, e.bodies)
		if err != nil {
			var httpErr *HttpError
			if errors.As(err, &httpErr) {
				return nil, err
			}
			return nil, ErrBadRequest("invalid request body").WithCause(err)
		}
		if p.Root {
			return body.Value, nil
		}
		if p.Schema.IsBinary() || isFileType(p.GoType) {
			files := body.Files[p.Name]
			if len(files) == 0 {
				return nil, nil
			}
			return files[0], nil
		}
		if p.Schema != nil && p.Schema.Type == schema.Array && p.Schema.Items.IsBinary() {
			files := body.Files[p.Name]
			if len(files) == 0 {
				return nil, nil
			}
			return files, nil
		}
		return body.Fields[p.Name], nil

	case SourceContext:
		if p.Root {
			return ctx, nil
		}
		return ctx.Get(p.Name), nil

	case SourceSession:
		sv, ok := ctx.Get(SessionKey).(SessionValues)
		if !ok || sv == nil {
			return nil, nil
		}
		if p.Root {
			return sv.Values(), nil
		}
		return sv.Values()[p.Name], nil

	case SourceRequest:
		if p.Root {
			return ctx.Request(), nil
		}
		switch strings.ToLower(p.Name) {
		case "method":
			return ctx.Method(), nil
		case "path":
			return ctx.Path(), nil
		case "ip":
			return ctx.RealIP(), nil
		case "url":
			return ctx.Request().URL(), nil
		case "content-type", "contenttype":
			return ctx.Request().ContentType(), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("unknown parameter source %q", p.Source)
}

var incomingFileType = reflect.TypeOf(IncomingFile{})

func isFileType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t == incomingFileType
}

func valuesMap(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		out[k] = items
	}
	return out
}

func absent(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	}
	return false
}

// needsJSON reports whether string transport values of s are JSON encoded.
func needsJSON(s *schema.Schema) bool {
	switch s.Type {
	case schema.Number, schema.Integer, schema.Boolean, schema.Object, schema.Array:
		return true
	}
	return false
}

// parseTransport decodes JSON-encoded string values for non-string schemas.
func parseTransport(raw any, s *schema.Schema) (any, error) {
	switch v := raw.(type) {
	case string:
		if !needsJSON(s) {
			return v, nil
		}
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	case []any:
		if s.Type != schema.Array || s.Items == nil {
			return v, nil
		}
		items := make([]any, len(v))
		for i, item := range v {
			parsed, err := parseTransport(item, s.Items)
			if err != nil {
				return nil, err
			}
			items[i] = parsed
		}
		return items, nil
	}
	return raw, nil
}

// bindValue converts v into a value assignable to t.
func bindValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumber(rv.Kind()) && isNumber(t.Kind()) {
		return convertNumber(rv, t)
	}
	if t.Kind() == reflect.Ptr {
		elem, err := bindValue(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
	}
	target := reflect.New(t)
	if err := json.Unmarshal(data, target.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", v, t)
	}
	return target.Elem(), nil
}

// convertNumber converts between numeric kinds, rejecting fractions bound
// to integers and values the target cannot hold.
func convertNumber(rv reflect.Value, t reflect.Type) (reflect.Value, error) {
	target := reflect.Zero(t)
	switch {
	case isFloat(rv.Kind()):
		f := rv.Float()
		switch {
		case isFloat(t.Kind()):
			if target.OverflowFloat(f) {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
			}
		case f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f):
			return reflect.Value{}, fmt.Errorf("cannot use %v as %s", f, t)
		case isUnsigned(t.Kind()):
			if f < 0 || f >= math.MaxUint64 || target.OverflowUint(uint64(f)) {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
			}
		default:
			if f < math.MinInt64 || f >= math.MaxInt64 || target.OverflowInt(int64(f)) {
				return reflect.Value{}, fmt.Errorf("%v overflows %s", f, t)
			}
		}
	case isUnsigned(rv.Kind()):
		u := rv.Uint()
		switch {
		case isUnsigned(t.Kind()):
			if target.OverflowUint(u) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", u, t)
			}
		case isInteger(t.Kind()):
			if u > math.MaxInt64 || target.OverflowInt(int64(u)) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", u, t)
			}
		}
	default:
		i := rv.Int()
		switch {
		case isUnsigned(t.Kind()):
			if i < 0 || target.OverflowUint(uint64(i)) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", i, t)
			}
		case isInteger(t.Kind()):
			if target.OverflowInt(i) {
				return reflect.Value{}, fmt.Errorf("%d overflows %s", i, t)
			}
		}
	}
	return rv.Convert(t), nil
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumber(k reflect.Kind) bool {
	return isInteger(k) || k == reflect.Float32 || k == reflect.Float64
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// respond converts a handler result into the response.
func (e *Executor) respond(ctx RequestContext, value any) error {
	res := ctx.Response()

	switch r := value.(type) {
	case *Response:
		if r == nil {
			return res.NoContent(http.StatusNoContent)
		}
		setHeaders(res, r.Headers)
		for _, c := range r.Cookies {
			res.SetCookie(c)
		}
		status := r.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		return writeBody(res, status, r.Body, "")
	case *Redirect:
		if r == nil {
			return res.NoContent(http.StatusNoContent)
		}
		setHeaders(res, r.Headers)
		status := r.StatusCode
		if status == 0 {
			status = http.StatusFound
		}
		return res.Redirect(status, r.URL)
	case *Stream:
		if r == nil {
			return res.NoContent(http.StatusNoContent)
		}
		setHeaders(res, r.Headers)
		status := r.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		contentType := r.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		if c, ok := r.Reader.(io.Closer); ok {
			defer c.Close()
		}
		return res.Stream(status, contentType, r.Reader)
	}

	status := http.StatusOK
	desc, ok := e.action.Responses[status]
	if !ok {
		return writeBody(res, status, value, "")
	}
	setHeaders(res, desc.Headers)
	if desc.Schema.IsBinary() {
		return writeBody(res, status, value, desc.Mime)
	}
	if e.convert && desc.Schema != nil {
		out, err := e.validator.Serialize(value, desc.Schema, desc.Strict)
		if err != nil {
			return &ResponseContractError{
				Controller: e.action.Controller.Name,
				Action:     e.action.Name,
				Status:     status,
				Expected:   desc.Schema.String(),
				Actual:     value,
				Cause:      err,
			}
		}
		value = out
	}
	return writeBody(res, status, value, desc.Mime)
}

func setHeaders(res ResponseInterface, headers map[string]string) {
	for k, v := range headers {
		res.SetHeader(k, v)
	}
}

func writeBody(res ResponseInterface, status int, body any, mime string) error {
	switch b := body.(type) {
	case nil:
		if status == http.StatusOK {
			status = http.StatusNoContent
		}
		return res.NoContent(status)
	case string:
		if mime != "" {
			return res.Blob(status, mime, []byte(b))
		}
		return res.String(status, b)
	case []byte:
		if mime == "" {
			mime = "application/octet-stream"
		}
		return res.Blob(status, mime, b)
	case io.Reader:
		if mime == "" {
			mime = "application/octet-stream"
		}
		if c, ok := b.(io.Closer); ok {
			defer c.Close()
		}
		return res.Stream(status, mime, b)
	}
	if rv := reflect.ValueOf(body); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return res.NoContent(http.StatusNoContent)
	}
	return res.JSON(status, body)
}
