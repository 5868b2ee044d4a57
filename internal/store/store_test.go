package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	apperrors "github.com/charlesng35/governor/pkg/errors"
)

func TestIsPermissionErrorByCode(t *testing.T) {
	require.True(t, IsPermissionError(mongo.CommandError{Code: 13, Message: "command find requires authentication"}))
	require.True(t, IsPermissionError(mongo.CommandError{Code: 18, Message: "auth failed"}))
	require.True(t, IsPermissionError(mongo.CommandError{Code: 0, Name: "Unauthorized", Message: "nope"}))
	require.False(t, IsPermissionError(mongo.CommandError{Code: 50, Name: "MaxTimeMSExpired", Message: "operation exceeded time limit"}))
}

func TestIsPermissionErrorByMessage(t *testing.T) {
	require.True(t, IsPermissionError(errors.New("not authorized on app to execute command")))
	require.True(t, IsPermissionError(errors.New("connection rejected: Unauthorized")))
	require.False(t, IsPermissionError(errors.New("server selection timeout")))
	require.False(t, IsPermissionError(nil))
}

func TestIsPermissionErrorUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("probe users: %w", mongo.CommandError{Code: 13})
	require.True(t, IsPermissionError(wrapped))
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))

	denied := Classify(mongo.CommandError{Code: 13, Message: "not authorized"})
	require.True(t, errors.Is(denied, apperrors.ErrPermissionDenied))

	unrelated := Classify(context.DeadlineExceeded)
	require.True(t, errors.Is(unrelated, apperrors.ErrProbeFailed))
	require.False(t, errors.Is(unrelated, apperrors.ErrPermissionDenied))
}

func TestClassifyPassesThroughClassified(t *testing.T) {
	already := apperrors.ErrPermissionDenied.WithInternal(errors.New("code 13"))

	out := Classify(already)
	require.True(t, errors.Is(out, apperrors.ErrPermissionDenied))
	// Classification is idempotent: no double wrapping.
	require.Equal(t, already, out)
}
