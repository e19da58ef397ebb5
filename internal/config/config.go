// Package config fills the daemon's flat option struct from a TOML file
// and CAMSWITCH_-prefixed environment variables. Precedence from highest:
// command line flags, environment, file, compiled-in defaults.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
)

const envPrefix = "CAMSWITCH_"

// Load merges file and environment values into opts, a pointer to a flat
// struct of string, int, and bool fields. The `toml` tag names the file
// key as a dotted section path; the `env` tag names the variable without
// the prefix. Fields whose CLI flag was set explicitly are left alone.
// The field named Config carries the file path.
func Load(opts any, flags *pflag.FlagSet) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	fileValues, err := readFile(configPath(v, t))
	if err != nil {
		return err
	}

	for i := range v.NumField() {
		field := v.Field(i)
		tag := t.Field(i)
		if flagChanged(flags, flagName(tag.Name)) {
			continue
		}
		if key := tag.Tag.Get("toml"); key != "" {
			if raw, ok := fileValues[key]; ok {
				assign(field, raw)
			}
		}
		if key := tag.Tag.Get("env"); key != "" {
			if raw := os.Getenv(envPrefix + key); raw != "" {
				assignString(field, raw)
			}
		}
	}
	return nil
}

func configPath(v reflect.Value, t reflect.Type) string {
	if f, ok := t.FieldByName("Config"); ok && f.Type.Kind() == reflect.String {
		return v.FieldByName("Config").String()
	}
	return ""
}

// readFile flattens the TOML document into dotted keys, so lookups match
// the tag paths without walking nested maps per field. A missing file is
// not an error; defaults apply.
func readFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	flat := make(map[string]any)
	flatten("", doc, flat)
	return flat, nil
}

func flatten(prefix string, doc map[string]any, out map[string]any) {
	for key, value := range doc {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			flatten(full, nested, out)
			continue
		}
		out[full] = value
	}
}

func flagChanged(flags *pflag.FlagSet, name string) bool {
	return flags != nil && flags.Changed(name)
}

// flagName derives the kebab-case flag for a field, e.g. AuthUsername
// becomes auth-username.
func flagName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// assign copies a decoded TOML value into a string, int, or bool field.
// Other kinds do not occur in the option struct and are ignored.
func assign(field reflect.Value, raw any) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		if s, ok := raw.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := raw.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch n := raw.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	}
}

func assignString(field reflect.Value, raw string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			field.SetInt(n)
		}
	}
}
