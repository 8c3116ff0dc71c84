package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_Classified(t *testing.T) {
	base := errors.New("insufficient funds")
	f := New(Terminal, "create_vault", base)

	assert.Equal(t, Terminal, KindOf(f))
	assert.False(t, Retryable(f))
	assert.True(t, errors.Is(f, base))
	assert.Contains(t, f.Error(), "create_vault")
}

func TestKindOf_WrappedChain(t *testing.T) {
	f := Validationf("missing token symbol")
	wrapped := fmt.Errorf("stage failed: %w", f)

	assert.Equal(t, Validation, KindOf(wrapped))
	assert.False(t, Retryable(wrapped))
}

func TestKindOf_UnclassifiedDefaultsToTransient(t *testing.T) {
	err := errors.New("connection reset by peer")
	assert.Equal(t, Transient, KindOf(err))
	assert.True(t, Retryable(err))
}

func TestInvariantf(t *testing.T) {
	f := Invariantf("rebalance on closed position %s", "p-1")
	assert.Equal(t, Invariant, KindOf(f))
	assert.False(t, Retryable(f))
}
