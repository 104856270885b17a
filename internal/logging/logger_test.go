package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("svc", "test", "loud")
	require.Error(t, err)
}

func TestNewBuildsLogger(t *testing.T) {
	l, err := New("svc", "development", "debug")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestFromContext(t *testing.T) {
	fallback := zap.NewNop()
	require.Same(t, fallback, FromContext(context.Background(), fallback))

	reqLogger := zap.NewNop().With(zap.String("request_id", "r1"))
	ctx := WithContext(context.Background(), reqLogger)
	require.Same(t, reqLogger, FromContext(ctx, fallback))

	require.Equal(t, ctx, WithContext(ctx, nil))
}
