package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidRun is returned for any inbound record that cannot be accepted.
var ErrInvalidRun = errors.New("invalid run")

// FieldError identifies the first field that failed validation.
type FieldError struct {
	Field string
	Rule  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid run: field %q failed %q", e.Field, e.Rule)
}

// Unwrap lets errors.Is match ErrInvalidRun.
func (e *FieldError) Unwrap() error {
	return ErrInvalidRun
}

// Candidate is the decode target for an inbound run. Every required field
// is a pointer or slice so that an absent field can be told apart from a
// zero value. Fields are declared in the order they are checked.
type Candidate struct {
	Name       *string   `json:"name" validate:"required,min=1"`
	RunID      *int64    `json:"runId" validate:"required"`
	Time       *float64  `json:"time" validate:"required"`
	Version    *string   `json:"version" validate:"required,min=1"`
	Model      *string   `json:"model" validate:"required,min=1"`
	SampleRate *float64  `json:"sampleRate" validate:"required"`
	Duration   *float64  `json:"duration" validate:"required"`
	Samples    []float64 `json:"samples" validate:"required,min=1"`
}

// ValidateOptions tunes how strictly numeric fields are checked.
type ValidateOptions struct {
	// StrictNumeric requires runId, time, sampleRate and duration to be
	// greater than zero instead of merely present.
	StrictNumeric bool
}

// validate is safe for concurrent use and caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report JSON field names rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// requiredFields lists the JSON keys of Candidate in declaration order.
var requiredFields = []string{
	"name", "runId", "time", "version",
	"model", "sampleRate", "duration", "samples",
}

// Decode parses a JSON document into a Candidate. Any document that is not
// an object, whose fields have the wrong JSON type, or that carries a key
// differing from a required key only by case fails with ErrInvalidRun.
func Decode(data []byte) (*Candidate, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}

	// encoding/json matches keys case-insensitively, so "NAME" would
	// otherwise fill Name while the stored document has no "name".
	for key := range fields {
		for _, required := range requiredFields {
			if key != required && strings.EqualFold(key, required) {
				return nil, &FieldError{Field: key, Rule: "case"}
			}
		}
	}

	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}

	return &c, nil
}

// Validate checks that every required field is present and non-empty.
func Validate(c *Candidate, opts ValidateOptions) error {
	if c == nil {
		return ErrInvalidRun
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &FieldError{Field: verrs[0].Field(), Rule: verrs[0].Tag()}
		}

		return fmt.Errorf("%w: %w", ErrInvalidRun, err)
	}

	if !opts.StrictNumeric {
		return nil
	}

	numeric := []struct {
		field string
		value float64
	}{
		{"runId", float64(*c.RunID)},
		{"time", *c.Time},
		{"sampleRate", *c.SampleRate},
		{"duration", *c.Duration},
	}

	for _, n := range numeric {
		if err := validate.Var(n.value, "gt=0"); err != nil {
			return &FieldError{Field: n.field, Rule: "gt"}
		}
	}

	return nil
}

// Valid reports whether c passes Validate.
func Valid(c *Candidate, opts ValidateOptions) bool {
	return Validate(c, opts) == nil
}

// Run converts a validated candidate into a Run. It must only be called
// after Validate has succeeded.
func (c *Candidate) Run() *Run {
	return &Run{
		Name:       *c.Name,
		RunID:      *c.RunID,
		Time:       *c.Time,
		Version:    *c.Version,
		Model:      *c.Model,
		SampleRate: *c.SampleRate,
		Duration:   *c.Duration,
		Samples:    c.Samples,
	}
}
