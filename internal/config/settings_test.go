package config

import (
	"encoding/json"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestGetFloat(t *testing.T) {
	v := viper.New()
	v.Set("zero", 0)
	v.Set("float", 1.5)
	v.Set("decimal", json.Number("2.5"))
	v.Set("int", 3)
	v.Set("numeric_string", "123")
	v.Set("non_numeric_string", "asdf")
	v.Set("list", []int{1, 2, 3})
	v.Set("map", map[string]any{"a": 1})

	tests := []struct {
		key  string
		want float64
		ok   bool
	}{
		{"zero", 0.0, true},
		{"float", 1.5, true},
		{"decimal", 2.5, true},
		{"int", 3.0, true},
		{"numeric_string", 123, true},
		{"non_numeric_string", 0, false},
		{"list", 0, false},
		{"map", 0, false},
		{"missing_key", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			got, ok := GetFloat(v, tc.key)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCoerceFloatNil(t *testing.T) {
	_, ok := coerceFloat(nil)
	assert.False(t, ok)
}
