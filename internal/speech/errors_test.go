package speech

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineError(t *testing.T) {
	engineErr := errors.New("engine exploded")
	perr := &PipelineError{
		Total: 3,
		Failures: []ChunkFailure{
			&SynthesisError{Index: 1, Err: engineErr},
			&SynthesisTimeoutError{Index: 2, Timeout: time.Second},
		},
	}

	assert.Equal(t, []int{1, 2}, perr.FailedIndices())
	assert.ErrorIs(t, perr, ErrPipeline)
	assert.ErrorIs(t, perr, ErrSynthesis)
	assert.ErrorIs(t, perr, ErrSynthesisTimeout)
	assert.ErrorIs(t, perr, engineErr)
	assert.ErrorIs(t, perr, context.DeadlineExceeded)
	assert.Contains(t, perr.Error(), "2 of 3 chunks failed")
	assert.Contains(t, perr.Error(), "chunk 1")
	assert.Equal(t, StageSynthesis, StageOf(perr))

	wrapped := fmt.Errorf("run: %w", perr)
	var got *PipelineError
	require.ErrorAs(t, wrapped, &got)
	assert.Equal(t, 3, got.Total)
}

func TestSynthesisError(t *testing.T) {
	err := &SynthesisError{Index: 4, Err: errors.New("boom")}
	assert.Equal(t, "chunk 4: synthesis failed: boom", err.Error())
	assert.Equal(t, 4, err.ChunkIndex())
	assert.NotErrorIs(t, err, ErrSynthesisTimeout)
}

func TestStageOf(t *testing.T) {
	tests := []struct {
		err  error
		want Stage
	}{
		{nil, ""},
		{&ValidationError{Field: "text", Message: "empty"}, StageValidation},
		{&ChunkingError{Offset: 3, Message: "bad"}, StageChunking},
		{&SynthesisError{Index: 0, Err: errors.New("x")}, StageSynthesis},
		{&ConcatenationError{Message: "rate mismatch"}, StageConcatenation},
		{fmt.Errorf("%w: %w", ErrCanceled, context.Canceled), StageCanceled},
		{context.Canceled, StageCanceled},
		{errors.New("other"), StageUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StageOf(tt.err), "%v", tt.err)
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "speech: invalid text: must not be empty",
		(&ValidationError{Field: "text", Message: "must not be empty"}).Error())
	assert.Equal(t, "speech: invalid input: bad",
		(&ValidationError{Message: "bad"}).Error())
	assert.Equal(t, "speech: chunking failed at offset 7: no printable characters",
		(&ChunkingError{Offset: 7, Message: "no printable characters"}).Error())
	assert.Equal(t, "speech: concatenation failed: empty input",
		(&ConcatenationError{Message: "empty input"}).Error())
}
