package resq

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Payload is a convenience alias for map-shaped job arguments.
type Payload map[string]any

// Job is a unit of work reserved from a queue.
type Job struct {
	Queue string `json:"-"`
	Class string `json:"class"`
	Args  []any  `json:"args"`
	ID    string `json:"id"`
}

// NewJobID returns a fresh job identifier: a UUIDv7 rendered as 32 hex chars.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return strings.ReplaceAll(id.String(), "-", "")
}

// Encode serializes the job to its wire payload.
func (j *Job) Encode() ([]byte, error) {
	args := j.Args
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(struct {
		Class string `json:"class"`
		Args  []any  `json:"args"`
		ID    string `json:"id"`
	}{j.Class, args, j.ID})
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	return data, nil
}

// DecodeJob deserializes a wire payload popped from queue.
func DecodeJob(queue string, data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if j.Class == "" {
		return nil, fmt.Errorf("decoding job: %w", ErrInvalidJobType)
	}
	j.Queue = queue
	return &j, nil
}

// Arg returns argument i, or nil when out of range.
func (j *Job) Arg(i int) any {
	if i < 0 || i >= len(j.Args) {
		return nil
	}
	return j.Args[i]
}

// Decode unmarshals argument i into target.
func (j *Job) Decode(i int, target any) error {
	if i < 0 || i >= len(j.Args) {
		return fmt.Errorf("decoding argument %d: job %s has %d arguments", i, j.ID, len(j.Args))
	}
	data, err := json.Marshal(j.Args[i])
	if err != nil {
		return fmt.Errorf("encoding argument %d for decode: %w", i, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decoding argument %d: %w", i, err)
	}
	return nil
}

// String returns a short description used in logs and failure records.
func (j *Job) String() string {
	return fmt.Sprintf("(Job{%s} | ID: %s | %s)", j.Queue, j.ID, j.Class)
}

// validateArgs walks every argument and rejects values that would not
// survive a round trip through the wire format.
func validateArgs(args []any) error {
	for i, a := range args {
		if err := validateValue(fmt.Sprintf("[%d]", i), reflect.ValueOf(a)); err != nil {
			return err
		}
	}
	return nil
}

// maxExactInt is the largest magnitude an integer can have and still decode
// from the wire format (a float64) unchanged.
const maxExactInt = 1 << 53

func validateValue(path string, v reflect.Value) error {
	if !v.IsValid() {
		return nil // nil interface
	}
	if n, ok := v.Interface().(json.Number); ok {
		return validateNumber(path, n)
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String:
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i := v.Int(); i > maxExactInt || i < -maxExactInt {
			return &SerializationError{Path: path, Kind: v.Kind()}
		}
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if v.Uint() > maxExactInt {
			return &SerializationError{Path: path, Kind: v.Kind()}
		}
		return nil
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return &SerializationError{Path: path, Kind: v.Kind()}
		}
		return nil
	case reflect.Interface:
		if v.IsNil() {
			return nil
		}
		return validateValue(path, v.Elem())
	case reflect.Slice, reflect.Array:
		// encoding/json renders []byte as a base64 string.
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return &SerializationError{Path: path, Kind: v.Kind()}
		}
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		for i := 0; i < v.Len(); i++ {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return &SerializationError{Path: path, Kind: v.Kind()}
		}
		iter := v.MapRange()
		for iter.Next() {
			if err := validateValue(fmt.Sprintf("%s.%s", path, iter.Key().String()), iter.Value()); err != nil {
				return err
			}
		}
		return nil
	default:
		// Pointers, structs, funcs, chans, complex numbers and unsafe
		// pointers are live references or opaque objects.
		return &SerializationError{Path: path, Kind: v.Kind()}
	}
}

func validateNumber(path string, n json.Number) error {
	i, err := strconv.ParseInt(string(n), 10, 64)
	switch {
	case err == nil && (i > maxExactInt || i < -maxExactInt):
		return &SerializationError{Path: path, Kind: reflect.String}
	case err == nil:
		return nil
	case errors.Is(err, strconv.ErrRange):
		return &SerializationError{Path: path, Kind: reflect.String}
	}
	if f, err := n.Float64(); err != nil || math.IsInf(f, 0) {
		return &SerializationError{Path: path, Kind: reflect.String}
	}
	return nil
}
