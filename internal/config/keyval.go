package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
)

// KeyValue represents a config key and its value
type KeyValue struct {
	Key   string
	Value string
}

// sensitiveKeys is populated at init time by scanning Config and
// ProjectConfig struct tags for `sensitive:"true"`.
var sensitiveKeys map[string]bool

func init() {
	sensitiveKeys = make(map[string]bool)
	collectSensitiveKeys(reflect.TypeOf(Config{}), sensitiveKeys)
	collectSensitiveKeys(reflect.TypeOf(ProjectConfig{}), sensitiveKeys)
}

// getTOMLKey extracts the TOML key name from a struct field's tag.
// Returns "" if the field has no toml tag.
func getTOMLKey(field reflect.StructField) string {
	tag := field.Tag.Get("toml")
	if tag == "" {
		return ""
	}
	return strings.Split(tag, ",")[0]
}

func collectSensitiveKeys(t reflect.Type, out map[string]bool) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := getTOMLKey(field)
		if key != "" && field.Tag.Get("sensitive") == "true" {
			out[key] = true
		}
	}
}

// IsValidKey returns true if the key is recognized by the global Config.
func IsValidKey(key string) bool {
	_, err := findField(reflect.ValueOf(Config{}), key)
	return err == nil
}

// IsSensitiveKey returns true if the key holds a secret that should be masked.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[key]
}

// MaskValue returns a masked version of a sensitive value, showing only the last 4 chars.
func MaskValue(val string) string {
	if len(val) <= 4 {
		return "****"
	}
	return "****" + val[len(val)-4:]
}

// GetConfigValue retrieves a value from a config struct by its TOML key.
func GetConfigValue(cfg any, key string) (string, error) {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", fmt.Errorf("expected struct, got %s", v.Kind())
	}
	field, err := findField(v, key)
	if err != nil {
		return "", err
	}
	return formatValue(field), nil
}

// SetConfigValue sets a value on a config struct by its TOML key,
// converting the string to the field's type.
func SetConfigValue(cfg any, key string, value string) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("expected pointer to struct, got %s", v.Kind())
	}
	field, err := findField(v.Elem(), key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field for key %q", key)
	}
	return setFieldValue(field, value)
}

// ListConfigKeys returns all non-zero values from a config struct as key-value pairs.
// Sensitive values are masked.
func ListConfigKeys(cfg any) []KeyValue {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	var result []KeyValue
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := getTOMLKey(t.Field(i))
		if key == "" || v.Field(i).IsZero() {
			continue
		}
		val := formatValue(v.Field(i))
		if IsSensitiveKey(key) {
			val = MaskValue(val)
		}
		result = append(result, KeyValue{Key: key, Value: val})
	}
	return result
}

func findField(v reflect.Value, key string) (reflect.Value, error) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if getTOMLKey(t.Field(i)) == key {
			return v.Field(i), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("unknown config key: %q", key)
}

// formatValue converts a reflect.Value to its string representation
func formatValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Int, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// setFieldValue sets a reflect.Value from a string, handling type conversion
func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %q", value)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %q", value)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// SetKeyInFile sets one key in the TOML file at path, leaving other keys
// as written. schema is the config struct the file is decoded into and is
// used to validate the key and type the value.
func SetKeyInFile(path string, schema any, key, value string) error {
	// Load existing file as raw map so defaults are not written out
	raw := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := SetConfigValue(schema, key, value); err != nil {
		return err
	}
	field, err := findField(reflect.ValueOf(schema).Elem(), key)
	if err != nil {
		return err
	}
	raw[key] = field.Interface()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
