package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientExpression_UnmarshalJSON(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    RecipientExpression
		wantErr bool
	}{
		{
			name:  "comma string is split and trimmed",
			input: `" +639171234567 , Staff,, 09181234567 "`,
			want: RecipientExpression{
				{Value: "+639171234567"}, {Value: "Staff"}, {Value: "09181234567"},
			},
		},
		{
			name:  "array of strings",
			input: `["+639171234567", "Staff, Teachers"]`,
			want: RecipientExpression{
				{Value: "+639171234567"}, {Value: "Staff"}, {Value: "Teachers"},
			},
		},
		{
			name:  "typed tokens",
			input: `[{"type":"group","value":"Staff"},{"type":"number","value":" 0917 123 4567 "}]`,
			want: RecipientExpression{
				{Kind: TokenGroup, Value: "Staff"}, {Kind: TokenNumber, Value: "0917 123 4567"},
			},
		},
		{name: "empty string", input: `""`, want: RecipientExpression{}},
		{name: "null", input: `null`, want: nil},
		{name: "unknown type", input: `[{"type":"email","value":"a@b.c"}]`, wantErr: true},
		{name: "number literal", input: `12345`, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got RecipientExpression
			err := json.Unmarshal([]byte(tc.input), &got)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecipientExpression_StoredFormReloads(t *testing.T) {
	expr := RecipientExpression{{Value: "Staff"}, {Kind: TokenNumber, Value: "+639171234567"}}
	data, err := json.Marshal(expr)
	require.NoError(t, err)

	var back RecipientExpression
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, expr, back)
}
