package shared

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cascade-run/cascade/pkg/errors"
)

func TestCodeFor(t *testing.T) {
	assert.Equal(t, ExitOK, CodeFor(nil))
	assert.Equal(t, ExitRunFailure, CodeFor(fmt.Errorf("boom")))
	assert.Equal(t, ExitInvalid, CodeFor(&errors.ValidationError{Field: "f", Message: "m"}))
	assert.Equal(t, ExitInvalid, CodeFor(&errors.CompileError{Workflow: "w", Message: "cycle"}))
	assert.Equal(t, ExitInvalid, CodeFor(fmt.Errorf("load: %w", &errors.ValidationError{Field: "f"})))
	assert.Equal(t, ExitRunFailure, CodeFor(Exit(ExitRunFailure, fmt.Errorf("partial"))))
	assert.Equal(t, 7, CodeFor(Exit(7, nil)))
}
