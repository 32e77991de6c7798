package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := map[string]struct {
		err  error
		want Kind
	}{
		"nil":        {nil, ""},
		"plain":      {errors.New("boom"), KindUnknown},
		"wrapped":    {fmt.Errorf("%w: x: %w", ErrNavigation, ErrTransport), KindNavigation},
		"canceled":   {errors.Join(ErrCanceled, context.Canceled), KindCanceled},
		"exhausted":  {&RetriesExhaustedError{Operation: "op", Attempts: 3, Last: ErrTransport}, KindRetriesExhausted},
		"corruption": {fmt.Errorf("%w: a.pdf", ErrCorruptDownload), KindCorruptDownload},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestCauseKind(t *testing.T) {
	nav := fmt.Errorf("%w: fetch page (page 2): %w", ErrNavigation, errors.New("timeout"))
	exhausted := &RetriesExhaustedError{Operation: "page 2", Attempts: 3, Last: nav}
	assert.Equal(t, KindNavigation, CauseKind(exhausted))

	nested := &RetriesExhaustedError{Operation: "page 2", Attempts: 3, Last: &RetriesExhaustedError{
		Operation: "re-authenticate", Attempts: 3, Last: ErrAuthenticationFailed,
	}}
	assert.Equal(t, KindAuthenticationFailed, CauseKind(nested))

	// a cause without a known kind leaves the retry kind
	opaque := &RetriesExhaustedError{Operation: "op", Attempts: 2, Last: errors.New("?")}
	assert.Equal(t, KindRetriesExhausted, CauseKind(opaque))

	f := NewFailure(RunWalking, "page 2", exhausted)
	assert.Equal(t, KindNavigation, f.Kind)
	assert.Contains(t, f.Message, "after 3 attempts")
	assert.Equal(t, "[walking] NavigationError page 2: "+exhausted.Error(), f.String())
}
