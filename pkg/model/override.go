package model

import (
	"os"
	"strings"

	cerrors "github.com/cascade-run/cascade/pkg/errors"
)

// Override is a per-step model override: either a literal model id or an
// environment reference of the form env:VAR|fallback. The zero value means
// no override.
type Override struct {
	// Literal is the model id when the override is written directly.
	Literal string

	// EnvVar is the environment variable name for env: overrides.
	EnvVar string

	// Fallback is used when EnvVar is unset. Only meaningful with EnvVar.
	Fallback string

	// HasFallback distinguishes an empty fallback from no fallback at all.
	HasFallback bool
}

// ParseOverride parses the model_override field of a step config.
// Accepted shapes: "", "provider:model", "env:VAR", "env:VAR|fallback".
func ParseOverride(raw string) Override {
	if !strings.HasPrefix(raw, "env:") {
		return Override{Literal: raw}
	}
	body := strings.TrimPrefix(raw, "env:")
	if v, fb, ok := strings.Cut(body, "|"); ok {
		return Override{EnvVar: v, Fallback: fb, HasFallback: true}
	}
	return Override{EnvVar: body}
}

// IsZero reports whether no override was configured.
func (o Override) IsZero() bool {
	return o.Literal == "" && o.EnvVar == ""
}

// Resolve returns the model id the override names. An env reference whose
// variable is unset falls back when a fallback exists; without one the
// resolution is a hard error, surfaced when the step starts.
func (o Override) Resolve() (string, error) {
	if o.EnvVar == "" {
		return o.Literal, nil
	}
	if v := os.Getenv(o.EnvVar); v != "" {
		return v, nil
	}
	if o.HasFallback {
		return o.Fallback, nil
	}
	return "", &cerrors.ConfigError{
		Key:    o.EnvVar,
		Reason: "model override references an unset environment variable with no fallback",
	}
}
