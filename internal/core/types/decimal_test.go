package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	tests := []struct {
		in   string
		want Quantity
	}{
		{"12", NewQuantity(12)},
		{"12.5", Quantity(125_000)},
		{"-0.25", Quantity(-2_500)},
		{"+3", NewQuantity(3)},
		{".5", Quantity(5_000)},
		{"1.23456", Quantity(12_345)},
		{"1e2", NewQuantity(100)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseQuantity(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "abc", "1.x", "1.-5"} {
		_, err := ParseQuantity(bad)
		assert.Error(t, err, bad)
	}
}

func TestQuantityString(t *testing.T) {
	assert.Equal(t, "4.0000", NewQuantity(4).String())
	assert.Equal(t, "-1.0500", Quantity(-10_500).String())
	assert.Equal(t, "0.0001", Quantity(1).String())
}

func TestQuantityJSON(t *testing.T) {
	var body struct {
		A Quantity `json:"a"`
		B Quantity `json:"b"`
		C Quantity `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 2.5, "b": "7", "c": null}`), &body))
	assert.Equal(t, Quantity(25_000), body.A)
	assert.Equal(t, NewQuantity(7), body.B)
	assert.Equal(t, Quantity(0), body.C)

	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 2.5, "b": 7, "c": 0}`, string(out))
}

func TestQuantityHelpers(t *testing.T) {
	assert.Equal(t, Quantity(0), Quantity(-5).ClampZero())
	assert.Equal(t, NewQuantity(2), MinQuantity(NewQuantity(2), NewQuantity(3)))
	assert.Equal(t, NewQuantity(2), NewQuantity(-2).Abs())
	assert.True(t, MustMoney("2.5").Equal(NewQuantity(2).Decimal().Add(MustMoney("0.5"))))
}
