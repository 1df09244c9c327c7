package config

import (
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// GetFloat returns the value stored under key coerced to a float64. Settings
// reach this layer with heterogeneous types (ints, floats, numeric strings,
// json.Number from decoded files); all of those coerce. Missing keys, nil
// values, non-numeric strings and composite values report false, never an
// error.
func GetFloat(v *viper.Viper, key string) (float64, bool) {
	return coerceFloat(v.Get(key))
}

func coerceFloat(raw any) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, false
	}
	return f, true
}
