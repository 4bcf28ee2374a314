package errs

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCategories(t *testing.T) {
	assert.True(t, errors.Is(ErrCircularReference, ErrStructuralConflict))
	assert.True(t, errors.Is(Validationf("bad name %q", "1x"), ErrValidation))
	assert.True(t, errors.Is(NotFoundf("table %d", 3), ErrNotFound))
	assert.True(t, errors.Is(errors.WithMessage(Conflictf("field %d", 1), "save"), ErrStructuralConflict))
	assert.False(t, errors.Is(NotFoundf("table %d", 3), ErrValidation))
	assert.Contains(t, Validationf("bad name %q", "1x").Error(), `bad name "1x"`)
}
