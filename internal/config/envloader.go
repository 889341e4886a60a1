package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// LoadFromEnv overrides fields of cfg from environment variables. Each
// field's `env` struct tag names its variable; nested structs are walked
// recursively. Unset and empty variables leave the field alone.
func LoadFromEnv(cfg any) error {
	return loadFromEnv(reflect.ValueOf(cfg), os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

func loadFromEnv(v reflect.Value, lookup lookupFunc) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	for _, sf := range reflect.VisibleFields(v.Type()) {
		field := v.FieldByIndex(sf.Index)
		if !field.CanSet() || sf.Anonymous {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := loadFromEnv(field, lookup); err != nil {
				return err
			}
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
		parsed, err := parseEnv(field.Type(), raw)
		if err != nil {
			return fmt.Errorf("%s (field %s): %w", name, sf.Name, err)
		}
		field.Set(parsed)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseEnv converts raw into a value of type t. String slices are comma
// separated, with blanks dropped.
func parseEnv(t reflect.Type, raw string) (reflect.Value, error) {
	out := reflect.New(t).Elem()
	switch {
	case t == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return out, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		out.SetInt(int64(d))
	case out.CanInt():
		n, err := strconv.ParseInt(raw, 0, t.Bits())
		if err != nil {
			return out, fmt.Errorf("invalid integer %q: %w", raw, err)
		}
		out.SetInt(n)
	case out.CanUint():
		n, err := strconv.ParseUint(raw, 0, t.Bits())
		if err != nil {
			return out, fmt.Errorf("invalid unsigned integer %q: %w", raw, err)
		}
		out.SetUint(n)
	case out.CanFloat():
		f, err := strconv.ParseFloat(raw, t.Bits())
		if err != nil {
			return out, fmt.Errorf("invalid float %q: %w", raw, err)
		}
		out.SetFloat(f)
	case t.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return out, fmt.Errorf("invalid boolean %q: %w", raw, err)
		}
		out.SetBool(b)
	case t.Kind() == reflect.String:
		out.SetString(raw)
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.String:
		items := lo.FilterMap(strings.Split(raw, ","), func(s string, _ int) (string, bool) {
			s = strings.TrimSpace(s)
			return s, s != ""
		})
		out.Set(reflect.ValueOf(items).Convert(t))
	default:
		return out, fmt.Errorf("unsupported type %s", t)
	}
	return out, nil
}
