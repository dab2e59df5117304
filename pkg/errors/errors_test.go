package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageError_WrapsSentinel(t *testing.T) {
	err := AtStage("docs", StageScip, fmt.Errorf("%w: exit status 2", ErrScipBuildFailed))

	assert.True(t, errors.Is(err, ErrScipBuildFailed))
	assert.Equal(t, StageScip, StageOf(err))
	assert.Contains(t, err.Error(), "SCIP indexing failed")
	assert.Nil(t, AtStage("docs", StageBuild, nil))
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("lookup: %w", ErrRepoNotFound), http.StatusNotFound},
		{ErrAliasExists, http.StatusConflict},
		{AtStage("a", StageBuild, ErrBuildFailed), http.StatusBadGateway},
		{ErrTimeout, http.StatusGatewayTimeout},
		{New(ErrInvalidInput, http.StatusUnprocessableEntity, "bad"), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatusCode(tc.err), tc.err.Error())
	}
}
