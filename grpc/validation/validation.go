// Package validation turns inbound payloads into validated, typed requests.
package validation

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
)

// Schema validates a request payload and returns its normalized form.
type Schema interface {
	Validate(req any) (any, error)
}

// Schemas maps full method names to their schema.
type Schemas map[string]Schema

// SchemaFunc adapts a function to Schema.
type SchemaFunc func(req any) (any, error)

func (f SchemaFunc) Validate(req any) (any, error) {
	return f(req)
}

var defaultValidator = sync.OnceValue(func() *validator.Validate { //nolint:gochecknoglobals
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return v
})

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return fld.Name
	default:
		return name
	}
}

type structSchema[T any] struct {
	validate *validator.Validate
}

type StructOption func(*structOptions)

type structOptions struct {
	validate *validator.Validate
}

// WithValidator uses v instead of the shared validator, e.g. to add custom tags.
func WithValidator(v *validator.Validate) StructOption {
	return func(o *structOptions) {
		o.validate = v
	}
}

// Struct returns a schema that decodes the payload into T and checks T's `validate` tags.
//
// Empty and null fields are stripped first, so a required field sent as "" or null is
// reported as missing. On success the request becomes a *T. Field names in error messages
// follow the `json` tags of T.
func Struct[T any](opts ...StructOption) Schema {
	o := &structOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.validate == nil {
		o.validate = defaultValidator()
	}
	return &structSchema[T]{validate: o.validate}
}

func (s *structSchema[T]) Validate(req any) (any, error) {
	payload, err := ToMap(req)
	if err != nil {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "request payload is not an object", apperrors.WithCause(err))
	}
	payload = StripEmpty(payload)

	out := new(T)
	violations, err := decodeViolations(decode(payload, out))
	if err != nil {
		return nil, err
	}

	// Fields that failed to decode are left zero; their tag violations would only repeat them.
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, errors.Wrap(err, "validate request")
		}
		for _, fe := range verrs {
			field := fieldPath(fe)
			if !hasViolation(violations, field) {
				violations = append(violations, violation{field: field, message: describe(field, fe)})
			}
		}
	}

	if len(violations) > 0 {
		return nil, invalidRequest(violations)
	}
	return out, nil
}

func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
		),
	})
	if err != nil {
		return errors.Wrap(err, "build decoder")
	}
	return dec.Decode(input)
}

type violation struct {
	field   string
	message string
}

func hasViolation(violations []violation, field string) bool {
	return slices.ContainsFunc(violations, func(v violation) bool { return v.field == field })
}

// decodeViolations turns the per-field errors of a decode into violations. Errors that
// are not tied to a payload field are returned as is.
func decodeViolations(err error) ([]violation, error) {
	if err == nil {
		return nil, nil
	}

	var violations []violation
	var walk func(error) bool
	walk = func(err error) bool {
		var de *mapstructure.DecodeError
		switch e := err.(type) {
		case *mapstructure.DecodeError:
			if errors.As(e.Unwrap(), &de) {
				return walk(e.Unwrap())
			}
			violations = append(violations, violation{field: e.Name(), message: describeDecode(e)})
			return true
		case interface{ Unwrap() []error }:
			ok := true
			for _, inner := range e.Unwrap() {
				ok = walk(inner) && ok
			}
			return ok
		case interface{ Unwrap() error }:
			return walk(e.Unwrap())
		default:
			return false
		}
	}
	if !walk(err) || len(violations) == 0 {
		return nil, errors.Wrap(err, "decode request")
	}

	sort.Slice(violations, func(i, j int) bool { return violations[i].field < violations[j].field })
	return violations, nil
}

func describeDecode(e *mapstructure.DecodeError) string {
	var unconvertible *mapstructure.UnconvertibleTypeError
	if errors.As(e, &unconvertible) && unconvertible.Expected.IsValid() {
		return fmt.Sprintf("%s must be %s", e.Name(), typeName(unconvertible.Expected.Type()))
	}
	var parse *mapstructure.ParseError
	if errors.As(e, &parse) && parse.Expected.IsValid() {
		return fmt.Sprintf("%s must be %s", e.Name(), typeName(parse.Expected.Type()))
	}
	return e.Name() + " has an invalid value"
}

func typeName(t reflect.Type) string {
	if t == reflect.TypeOf(time.Duration(0)) {
		return "a duration"
	}
	if t == reflect.TypeOf(time.Time{}) {
		return "a timestamp"
	}
	switch t.Kind() { //nolint:exhaustive
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "a list"
	case reflect.Map, reflect.Struct:
		return "an object"
	default:
		return "a " + t.String()
	}
}

// invalidRequest builds one error naming every violated field.
func invalidRequest(violations []violation) *apperrors.Error {
	messages := make([]string, 0, len(violations))
	fields := make([]string, 0, len(violations))
	for _, v := range violations {
		fields = append(fields, v.field)
		messages = append(messages, v.message)
	}
	sort.Strings(fields)

	return apperrors.New(apperrors.KindInvalidRequest,
		"invalid request: "+strings.Join(messages, "; "),
		apperrors.WithMetadataValue("fields", strings.Join(fields, ",")),
	)
}

// fieldPath drops the root type name from the namespace: "CreateProduct.items[0].sku" -> "items[0].sku".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless", "required_with", "required_without":
		return field + " is required"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "lt":
		return fmt.Sprintf("%s must be less than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return field + " must be a valid email"
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// ToMap converts a request payload into a generic map.
func ToMap(req any) (map[string]any, error) {
	switch v := req.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case *structpb.Struct:
		return v.AsMap(), nil
	case proto.Message:
		b, err := protojson.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "marshal proto payload")
		}
		return unmarshalObject(b)
	default:
		b, err := sonic.Marshal(v)
		if err != nil {
			return nil, errors.Wrap(err, "marshal payload")
		}
		return unmarshalObject(b)
	}
}

func unmarshalObject(b []byte) (map[string]any, error) {
	var m map[string]any
	if err := sonic.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "unmarshal payload")
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// StripEmpty returns a copy of m without null values, empty strings and objects left
// empty after stripping. Zero numbers and false are kept. Inside lists, stripped elements
// become null instead of being removed.
func StripEmpty(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v, keep := stripValue(v); keep {
			out[k] = v
		}
	}
	return out
}

func stripValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil:
		return nil, false
	case string:
		return val, val != ""
	case map[string]any:
		stripped := StripEmpty(val)
		return stripped, len(stripped) > 0
	case []any:
		// Elements keep their positions so error paths like items[1].sku match the payload.
		items := make([]any, len(val))
		for i, item := range val {
			if item, keep := stripValue(item); keep {
				items[i] = item
			}
		}
		return items, true
	default:
		return v, true
	}
}
