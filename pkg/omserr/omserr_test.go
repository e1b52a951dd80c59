package omserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(Internal, "store failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Internal, CodeOf(err))
}

func TestGRPCCodeMapsLockedToFailedPrecondition(t *testing.T) {
	err := New(Locked, "branch is locked")
	assert.Equal(t, codes.FailedPrecondition, err.GRPCCode())
}

func TestWithDetailsMergesWithoutMutatingOriginal(t *testing.T) {
	base := New(Conflict, "version mismatch")
	derived := base.WithDetails(map[string]string{"expected": "3", "actual": "4"})

	assert.Empty(t, base.Details)
	assert.Equal(t, "3", derived.Details["expected"])
}

func TestCodeOfDefaultsToInternalForPlainErrors(t *testing.T) {
	assert.Equal(t, Internal, CodeOf(errors.New("plain")))
}
