// Package codec serializes chat state records to JSON text and back.
//
// Timestamps survive the round trip: a time.Time is written as the tagging
// object {"__datetime__": "<DatetimeLayout>"} and decoded back into a
// time.Time. Integers and floats keep their identity as well, decoded values
// are always int64 or float64.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

const (
	// DatetimeKey is the only key of a timestamp tagging object.
	DatetimeKey = "__datetime__"

	// DatetimeLayout has microsecond resolution and a numeric UTC offset.
	DatetimeLayout = "2006-01-02T15:04:05.000000-0700"
)

// Codec is stateless; share Default() instead of building new ones.
type Codec struct {
	layout string
}

var std = New()

// Default returns the process-wide codec.
func Default() *Codec { return std }

func New() *Codec {
	return &Codec{layout: DatetimeLayout}
}

// Encode serializes v. Supported values are nil, bool, strings, integer and
// float kinds, time.Time, maps keyed by strings, slices and arrays of those,
// and pointers to any of them.
func (c *Codec) Encode(v any) (string, error) {
	tree, err := c.normalize(v, "$")
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("codec: marshal: %w", err)
	}
	return string(b), nil
}

// EncodeRecord serializes a record mapping.
func (c *Codec) EncodeRecord(record map[string]any) (string, error) {
	if record == nil {
		record = map[string]any{}
	}
	return c.Encode(record)
}

// Decode parses text produced by Encode. Objects become map[string]any,
// arrays []any, numbers int64 or float64, and tagged timestamps time.Time.
func (c *Codec) Decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{Err: err}
	}
	if tok, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = fmt.Errorf("unexpected trailing token %v", tok)
		}
		return nil, &ParseError{Err: err}
	}
	return c.revive(raw, "$")
}

// DecodeRecord parses text whose top-level value must be an object.
func (c *Codec) DecodeRecord(text string) (map[string]any, error) {
	v, err := c.Decode(text)
	if err != nil {
		return nil, err
	}
	record, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Err: fmt.Errorf("top-level value is %T, want object", v)}
	}
	return record, nil
}

func (c *Codec) normalize(v any, path string) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return x, nil
	case int:
		return json.Number(strconv.FormatInt(int64(x), 10)), nil
	case int8:
		return json.Number(strconv.FormatInt(int64(x), 10)), nil
	case int16:
		return json.Number(strconv.FormatInt(int64(x), 10)), nil
	case int32:
		return json.Number(strconv.FormatInt(int64(x), 10)), nil
	case int64:
		return json.Number(strconv.FormatInt(x, 10)), nil
	case uint:
		return json.Number(strconv.FormatUint(uint64(x), 10)), nil
	case uint8:
		return json.Number(strconv.FormatUint(uint64(x), 10)), nil
	case uint16:
		return json.Number(strconv.FormatUint(uint64(x), 10)), nil
	case uint32:
		return json.Number(strconv.FormatUint(uint64(x), 10)), nil
	case uint64:
		return json.Number(strconv.FormatUint(x, 10)), nil
	case float32:
		return formatFloat(float64(x), 32, path)
	case float64:
		return formatFloat(x, 64, path)
	case time.Time:
		return c.formatTime(x, path)
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return c.formatTime(*x, path)
	case map[string]any:
		return c.normalizeMap(reflect.ValueOf(x), path)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			n, err := c.normalize(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return c.normalize(rv.Elem().Interface(), path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &UnsupportedTypeError{Path: path, Type: rv.Type(), Reason: "map keys must be strings"}
		}
		return c.normalizeMap(rv, path)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			n, err := c.normalize(rv.Index(i).Interface(), path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return json.Number(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return json.Number(strconv.FormatUint(rv.Uint(), 10)), nil
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), rv.Type().Bits(), path)
	}
	return nil, &UnsupportedTypeError{Path: path, Type: rv.Type()}
}

func (c *Codec) normalizeMap(rv reflect.Value, path string) (any, error) {
	if rv.IsNil() {
		return map[string]any{}, nil
	}
	if rv.Len() == 1 && rv.MapIndex(reflect.ValueOf(DatetimeKey).Convert(rv.Type().Key())).IsValid() {
		return nil, &UnsupportedTypeError{Path: path, Type: rv.Type(), Reason: "single " + DatetimeKey + " key is reserved for timestamps"}
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		n, err := c.normalize(iter.Value().Interface(), path+"."+key)
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}

// formatTime rejects timestamps the layout cannot parse back: years outside
// 0000-9999 and zone offsets with seconds.
func (c *Codec) formatTime(t time.Time, path string) (any, error) {
	if y := t.Year(); y < 0 || y > 9999 {
		return nil, &UnsupportedTypeError{Path: path, Type: reflect.TypeOf(t), Reason: "year " + strconv.Itoa(y) + " is outside 0000-9999"}
	}
	if _, off := t.Zone(); off%60 != 0 {
		return nil, &UnsupportedTypeError{Path: path, Type: reflect.TypeOf(t), Reason: "zone offset has seconds"}
	}
	return map[string]any{DatetimeKey: t.Format(c.layout)}, nil
}

func formatFloat(f float64, bits int, path string) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &UnsupportedTypeError{Path: path, Type: reflect.TypeOf(f), Reason: "NaN and Inf have no JSON form"}
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s), nil
}

func (c *Codec) revive(v any, path string) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if raw, ok := x[DatetimeKey]; ok && len(x) == 1 {
			s, ok := raw.(string)
			if !ok {
				return nil, &FormatError{Path: path, Value: raw, Err: errors.New("timestamp must be a string")}
			}
			t, err := time.Parse(c.layout, s)
			if err != nil {
				return nil, &FormatError{Path: path, Value: s, Err: err}
			}
			return t, nil
		}
		for k, item := range x {
			r, err := c.revive(item, path+"."+k)
			if err != nil {
				return nil, err
			}
			x[k] = r
		}
		return x, nil
	case []any:
		for i, item := range x {
			r, err := c.revive(item, path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return nil, err
			}
			x[i] = r
		}
		return x, nil
	case json.Number:
		return parseNumber(x, path)
	}
	return v, nil
}

func parseNumber(n json.Number, path string) (any, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("%s: %w", path, err)}
	}
	return f, nil
}
