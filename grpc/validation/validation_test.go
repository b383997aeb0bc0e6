package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
)

type createProduct struct {
	Name     string   `json:"name" validate:"required,min=3"`
	Price    float64  `json:"price" validate:"required,gt=0"`
	Quantity int      `json:"quantity" validate:"gte=0"`
	Tags     []string `json:"tags,omitempty"`
	Owner    *owner   `json:"owner,omitempty"`
}

type owner struct {
	Email string `json:"email" validate:"required,email"`
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestStructSchema(t *testing.T) {
	schema := Struct[createProduct]()

	tests := []struct {
		name       string
		req        any
		want       *createProduct
		wantFields []string
	}{
		{
			name: "valid struct payload is normalized",
			req: mustStruct(t, map[string]any{
				"name":     "lamp",
				"price":    12.5,
				"quantity": 3,
				"tags":     []any{"home"},
				"owner":    map[string]any{"email": "a@b.co"},
			}),
			want: &createProduct{
				Name: "lamp", Price: 12.5, Quantity: 3,
				Tags:  []string{"home"},
				Owner: &owner{Email: "a@b.co"},
			},
		},
		{
			name: "weakly typed input",
			req:  map[string]any{"name": "lamp", "price": "9.99", "quantity": "2"},
			want: &createProduct{Name: "lamp", Price: 9.99, Quantity: 2},
		},
		{
			name:       "empty price is stripped and reported missing",
			req:        mustStruct(t, map[string]any{"name": "lamp", "price": ""}),
			wantFields: []string{"price"},
		},
		{
			name:       "null price is stripped and reported missing",
			req:        map[string]any{"name": "lamp", "price": nil},
			wantFields: []string{"price"},
		},
		{
			name:       "every violated field is reported",
			req:        map[string]any{"name": "la", "quantity": -1, "owner": map[string]any{"email": "nope"}},
			wantFields: []string{"name", "price", "quantity", "owner.email"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := schema.Validate(tt.req)
			if tt.wantFields == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.Error(t, err)
			translated := apperrors.Translate(err)
			assert.Equal(t, apperrors.KindInvalidRequest, translated.Kind)
			assert.Equal(t, codes.InvalidArgument, translated.Code)
			for _, field := range tt.wantFields {
				assert.Contains(t, translated.Message, field)
				assert.Contains(t, translated.Metadata["fields"], field)
			}
		})
	}
}

func TestStructSchemaRejectsWrongTypes(t *testing.T) {
	_, err := Struct[createProduct]().Validate(map[string]any{
		"price":    "abc",
		"quantity": map[string]any{"x": 1},
	})
	require.Error(t, err)

	translated := apperrors.Translate(err)
	assert.Equal(t, apperrors.KindInvalidRequest, translated.Kind)
	assert.Equal(t, codes.InvalidArgument, translated.Code)
	assert.Equal(t, "name,price,quantity", translated.Metadata["fields"])
	assert.Contains(t, translated.Message, "price must be a number")
	assert.Contains(t, translated.Message, "quantity must be an integer")
	assert.Contains(t, translated.Message, "name is required")
	assert.NotContains(t, translated.Message, "price is required")
}

type lineItem struct {
	SKU string `json:"sku" validate:"required"`
}

type placeOrder struct {
	Items []lineItem `json:"items" validate:"required,dive"`
}

func TestStructSchemaKeepsListPositions(t *testing.T) {
	_, err := Struct[placeOrder]().Validate(mustStruct(t, map[string]any{
		"items": []any{
			map[string]any{"sku": "lamp-01"},
			map[string]any{"sku": ""},
			map[string]any{"sku": "desk-02"},
		},
	}))
	require.Error(t, err)

	translated := apperrors.Translate(err)
	assert.Equal(t, "items[1].sku", translated.Metadata["fields"])
	assert.Contains(t, translated.Message, "items[1].sku is required")
}

func TestToMap(t *testing.T) {
	m, err := ToMap(wrapperspb.String("x"))
	require.Error(t, err, "a wrapper marshals to a JSON string, not an object")
	assert.Nil(t, m)

	m, err = ToMap(struct {
		A int `json:"a"`
	}{A: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 1, m["a"])

	m, err = ToMap(nil)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestStripEmpty(t *testing.T) {
	in := map[string]any{
		"a": "",
		"b": nil,
		"c": 0.0,
		"d": false,
		"e": map[string]any{"x": ""},
		"f": map[string]any{"y": "keep", "z": nil},
		"g": []any{"", "v", nil},
	}
	assert.Equal(t, map[string]any{
		"c": 0.0,
		"d": false,
		"f": map[string]any{"y": "keep"},
		"g": []any{nil, "v", nil},
	}, StripEmpty(in))
}

func TestSchemaFunc(t *testing.T) {
	var s Schema = SchemaFunc(func(req any) (any, error) { return req, nil })
	got, err := s.Validate("x")
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}
