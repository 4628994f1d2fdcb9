package publish

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/caarlos0/env/v11"
)

// FromEnv parses T from the environment using its env struct tags. Fields
// tagged with `required:"true"` that end up blank are reported together as a
// MissingConfigError naming their variables.
func FromEnv[T any](provider string) (T, error) {
	cfg, err := env.ParseAs[T]()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: parse environment: %w", provider, err)
	}

	var missing []string
	v := reflect.ValueOf(&cfg).Elem()
	for i := range v.NumField() {
		f := v.Type().Field(i)
		if f.Tag.Get("required") != "true" || f.Type.Kind() != reflect.String {
			continue
		}
		s := strings.TrimSpace(v.Field(i).String())
		v.Field(i).SetString(s)
		if s == "" {
			missing = append(missing, f.Tag.Get("env"))
		}
	}
	if len(missing) > 0 {
		var zero T
		return zero, MissingConfigError{Provider: provider, Settings: missing}
	}
	return cfg, nil
}
