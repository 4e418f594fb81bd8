package appctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext(t *testing.T) {
	ctx := Context()
	assert.Same(t, ctx, Context())
	assert.NoError(t, ctx.Err())
	Cancel()
	<-ctx.Done()
	assert.Error(t, ctx.Err())
}
