// Package model - Reflection-basierte Options-Population
//
// Dieses Modul enthaelt die Reflection-Logik zum Befuellen von
// Suchraum-Optionen aus der Options-Map einer Config.
//
// Hauptkomponenten:
// - Populate: Befuellt Strukturfelder anhand ihrer nas-Tags
// - Tag: nas-Tag-Struktur mit Name und Alternativen
// - parseTag: Parst nas-Tags aus Struct-Tags

package model

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
)

// Tag repraesentiert einen geparsten nas-Tag
type Tag struct {
	name         string
	alternatives []string
}

// parseTag parst einen nas-Tag-String in eine Tag-Struktur
func parseTag(s string) (tag Tag) {
	parts := strings.Split(s, ",")
	if len(parts) > 0 {
		tag.name = parts[0]

		for _, part := range parts[1:] {
			if value, ok := strings.CutPrefix(part, "alt:"); ok && tag.name == "" {
				tag.name = value
				slog.Warn("nas tag has alt: but no primary name", "tag", s)
			} else if ok {
				tag.alternatives = append(tag.alternatives, value)
			}
		}
	}

	return
}

// Populate setzt die Felder von dst (Pointer auf Struct) aus opts. Felder
// ohne Eintrag behalten ihren Wert; unbekannte Schluessel sind ein Fehler.
func Populate(dst any, opts map[string]string) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("populate: expected pointer to struct, got %T", dst)
	}
	v = v.Elem()
	t := v.Type()

	known := make([]string, 0, t.NumField())
	used := make(map[string]bool, len(opts))
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("nas")
		if tag == "" || !v.Field(i).CanSet() {
			continue
		}

		tt := parseTag(tag)
		known = append(known, tt.name)
		for _, name := range append([]string{tt.name}, tt.alternatives...) {
			s, ok := opts[name]
			if !ok {
				continue
			}
			used[name] = true
			if err := setField(v.Field(i), s); err != nil {
				return fmt.Errorf("%w: option %s: %w", ErrInvalidConfig, name, err)
			}
			break
		}
	}

	for name := range opts {
		if used[name] {
			continue
		}
		if s := suggest(name, known); s != "" {
			return fmt.Errorf("%w: unknown option %q (did you mean %q?)", ErrInvalidConfig, name, s)
		}
		return fmt.Errorf("%w: unknown option %q", ErrInvalidConfig, name)
	}
	return nil
}

// setField parst s passend zum Feldtyp
func setField(v reflect.Value, s string) error {
	s = strings.TrimSpace(s)
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	case reflect.Slice:
		parts := strings.Split(s, ",")
		out := reflect.MakeSlice(v.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setField(out.Index(i), part); err != nil {
				return err
			}
		}
		v.Set(out)
	default:
		return fmt.Errorf("unsupported field type %s", v.Type())
	}
	return nil
}
