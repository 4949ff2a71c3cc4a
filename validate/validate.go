// Package validate provides structural validation helpers shared by the
// event codec and the location source. It checks:
//   - Coordinate ranges (latitude -90..90, longitude -180..180)
//   - Finiteness of numeric fields (NaN and Inf are always rejected)
//   - Required string/number fields inside untyped JSON payloads
//   - Player nicknames (non-empty, bounded length)
package validate

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0

	// MaxNicknameLen bounds nicknames to keep payloads and UI labels sane.
	MaxNicknameLen = 32
)

var (
	ErrNotFinite     = errors.New("value is not a finite number")
	ErrOutOfRange    = errors.New("value out of range")
	ErrMissingField  = errors.New("missing required field")
	ErrWrongType     = errors.New("field has wrong type")
	ErrEmptyNickname = errors.New("nickname is empty")
	ErrNicknameLen   = errors.New("nickname too long")
)

// Finite rejects NaN and infinities.
func Finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %w", name, ErrNotFinite)
	}
	return nil
}

// Latitude validates a latitude in decimal degrees.
func Latitude(v float64) error {
	if err := Finite("latitude", v); err != nil {
		return err
	}
	if v < MinLatitude || v > MaxLatitude {
		return fmt.Errorf("latitude %v: %w", v, ErrOutOfRange)
	}
	return nil
}

// Longitude validates a longitude in decimal degrees.
func Longitude(v float64) error {
	if err := Finite("longitude", v); err != nil {
		return err
	}
	if v < MinLongitude || v > MaxLongitude {
		return fmt.Errorf("longitude %v: %w", v, ErrOutOfRange)
	}
	return nil
}

// Coordinate validates a latitude/longitude pair.
func Coordinate(lat, lon float64) error {
	if err := Latitude(lat); err != nil {
		return err
	}
	return Longitude(lon)
}

// Nickname validates a display name before it is sent to the room.
func Nickname(s string) error {
	if strings.TrimSpace(s) == "" {
		return ErrEmptyNickname
	}
	if utf8.RuneCountInString(s) > MaxNicknameLen {
		return fmt.Errorf("%q: %w", s, ErrNicknameLen)
	}
	return nil
}

// NumberField extracts a required finite number from an untyped JSON object.
// JSON numbers decode as float64; anything else is a structural failure.
func NumberField(data map[string]any, key string) (float64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	v, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("%s: %w", key, ErrWrongType)
	}
	if err := Finite(key, v); err != nil {
		return 0, err
	}
	return v, nil
}

// OptionalNumberField extracts an optional finite number. A missing or null
// field returns (nil, nil); a present field of the wrong type is an error.
func OptionalNumberField(data map[string]any, key string) (*float64, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil, nil
	}
	v, ok := raw.(float64)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrWrongType)
	}
	if err := Finite(key, v); err != nil {
		return nil, err
	}
	return &v, nil
}

// StringField extracts a required non-empty string from an untyped JSON object.
func StringField(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrWrongType)
	}
	if v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrMissingField)
	}
	return v, nil
}

// OptionalStringField extracts an optional string; missing or null yields "".
func OptionalStringField(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", nil
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrWrongType)
	}
	return v, nil
}
