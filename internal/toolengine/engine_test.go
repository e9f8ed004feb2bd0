package toolengine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineInvoke(t *testing.T) {
	e := New()
	e.Register("add", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		var in struct{ A, B int }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return in.A + in.B, nil
	})

	result, err := e.Invoke(context.Background(), "add", json.RawMessage(`{"A":2,"B":3}`))
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestEngineUnknownTool(t *testing.T) {
	e := New()

	_, err := e.Invoke(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestEngineToolError(t *testing.T) {
	e := New()
	failure := errors.New("disk on fire")
	e.Register("bad", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return nil, failure
	})

	_, err := e.Invoke(context.Background(), "bad", nil)
	assert.ErrorIs(t, err, failure)
}

func TestEngineRegisterReplaces(t *testing.T) {
	e := New()
	e.Register("t", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return "old", nil
	})
	e.Register("t", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		return "new", nil
	})

	result, err := e.Invoke(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "new", result)
}

func TestEngineNames(t *testing.T) {
	e := New()
	assert.Empty(t, e.Names())

	e.Register("a", func(ctx context.Context, args json.RawMessage) (interface{}, error) { return nil, nil })
	e.Register("b", func(ctx context.Context, args json.RawMessage) (interface{}, error) { return nil, nil })

	assert.ElementsMatch(t, []string{"a", "b"}, e.Names())
}

func TestEngineTimeout(t *testing.T) {
	e := New()
	e.SetTimeout(50 * time.Millisecond)
	e.Register("slow", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "done", nil
		}
	})

	_, err := e.Invoke(context.Background(), "slow", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEngineZeroTimeoutDisablesDeadline(t *testing.T) {
	e := New()
	e.SetTimeout(0)
	e.Register("check", func(ctx context.Context, args json.RawMessage) (interface{}, error) {
		_, hasDeadline := ctx.Deadline()
		return hasDeadline, nil
	})

	result, err := e.Invoke(context.Background(), "check", nil)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}
