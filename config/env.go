package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// loadFromEnv overlays every `env`-tagged field of cfg that has a
// non-empty variable in the process environment. All parse failures are
// reported together.
func loadFromEnv(cfg *Config) error {
	return applyEnv(reflect.ValueOf(cfg), os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func applyEnv(v reflect.Value, lookup lookupFunc) error {
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %s", v.Type())
	}
	var errs []error
	walkEnv(v.Elem(), lookup, &errs)
	return errors.Join(errs...)
}

func walkEnv(v reflect.Value, lookup lookupFunc, errs *[]error) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field, sf := v.Field(i), t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if field.Kind() == reflect.Struct {
			walkEnv(field, lookup, errs)
			continue
		}
		name := sf.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok || raw == "" {
			continue
		}
		if err := setFromString(field, raw); err != nil {
			*errs = append(*errs, fmt.Errorf("%s (%s): %w", name, sf.Name, err))
		}
	}
}

func setFromString(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", raw)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q", raw)
		}
		field.SetFloat(f)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice of %s", field.Type().Elem())
		}
		parts := splitList(raw)
		out := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			out.Index(i).SetString(p)
		}
		field.Set(out)
	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map %s", field.Type())
		}
		// key=value,key2=value2
		out := reflect.MakeMap(field.Type())
		for _, pair := range splitList(raw) {
			k, val, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid map entry %q", pair)
			}
			out.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)).Convert(field.Type().Key()),
				reflect.ValueOf(strings.TrimSpace(val)).Convert(field.Type().Elem()))
		}
		field.Set(out)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
