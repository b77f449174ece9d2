package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_ContextInMessage(t *testing.T) {
	err := ModelFitError("fit did not converge", stderrors.New("singular")).
		ForFeature("EXO1").
		ForCandidate(7).
		ForFold("r0f2")

	assert.Equal(t, "fit did not converge [feature=EXO1 candidate=7 fold=r0f2]: singular", err.Error())
	assert.Equal(t, CodeModelFitError, err.Code)
}

func TestAppError_ForCopies(t *testing.T) {
	base := ModelFitError("timeout", nil)
	tagged := base.ForFeature("G1")

	assert.Empty(t, base.Feature)
	assert.Equal(t, "G1", tagged.Feature)
}

func TestIsCode_ThroughWrapChain(t *testing.T) {
	root := InsufficientData("G2", 20, 5)
	wrapped := fmt.Errorf("bounds: %w", Wrap(root, "feature skipped"))

	assert.True(t, IsInsufficientData(wrapped))
	assert.False(t, IsModelFitError(wrapped))
	assert.False(t, IsStratificationError(wrapped))
	assert.Equal(t, CodeInsufficientData, GetCode(wrapped))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "nothing"))
	assert.Nil(t, Wrapf(nil, "nothing %d", 1))
	assert.Nil(t, WithCode(CodeInternalError, nil))
}

func TestWrap_PlainErrorBecomesInternal(t *testing.T) {
	err := Wrap(stderrors.New("boom"), "loading cohort")
	assert.Equal(t, CodeInternalError, GetCode(err))
	assert.Equal(t, "loading cohort: boom", err.Error())
}

func TestIsConfigurationError(t *testing.T) {
	assert.True(t, IsConfigurationError(ConfigurationError("no lower bound source")))
	assert.True(t, IsConfigurationError(ConfigInvalid("bad yaml")))
	assert.False(t, IsConfigurationError(StratificationError("stratum too small")))
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("plain")))
}
