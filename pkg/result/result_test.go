package result

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/quill/pkg/access"
)

func TestDeniedForcesDenial(t *testing.T) {
	r := Denied[int](access.Decision{Allowed: true, Action: access.ActionEdit, Reason: access.ReasonNotAuthor})

	assert.Equal(t, StatusDenied, r.Status)
	assert.False(t, r.Decision.Allowed)
	assert.NotEmpty(t, r.Guidance())
	assert.False(t, r.OK())
}

func TestRecast(t *testing.T) {
	err := errors.New("boom")
	r := Recast[string](Failed[int](err))

	assert.Equal(t, StatusError, r.Status)
	assert.Same(t, err, r.Err)
	assert.Empty(t, r.Guidance())
}
