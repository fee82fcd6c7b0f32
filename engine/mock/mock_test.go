package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qr "github.com/ineyio/quotarelay"
	"github.com/ineyio/quotarelay/engine/mock"
)

func TestEngine_Defaults(t *testing.T) {
	e := mock.New()
	info, err := e.Execute(context.Background(), qr.Origin{Account: "alice"}, mock.Call("remark"))
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000), info.ActualWeight)
	assert.Equal(t, int64(1), e.CallCount())
	assert.Equal(t, []qr.Origin{{Account: "alice"}}, e.Origins())
}

func TestEngine_FailAfter(t *testing.T) {
	e := mock.New(mock.WithFailAfter(2))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := e.Execute(ctx, qr.Origin{Account: "alice"}, mock.Call("remark"))
		require.NoError(t, err)
	}
	_, err := e.Execute(ctx, qr.Origin{Account: "alice"}, mock.Call("remark"))
	assert.ErrorIs(t, err, mock.ErrRejected)
	assert.Equal(t, int64(3), e.CallCount(), "rejected calls still count as forwarded")
}

func TestEngine_ErrorAndFunc(t *testing.T) {
	boom := errors.New("boom")
	_, err := mock.New(mock.WithError(boom)).Execute(context.Background(), qr.Origin{}, mock.Call("x"))
	assert.ErrorIs(t, err, boom)

	e := mock.New(mock.WithFunc(func(o qr.Origin, c qr.Call) (qr.PostExecutionInfo, error) {
		return qr.PostExecutionInfo{ActualWeight: uint64(len(c.Kind()))}, nil
	}))
	info, err := e.Execute(context.Background(), qr.Origin{}, mock.Call("abc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.ActualWeight)
}

func TestEngine_LatencyHonoursContext(t *testing.T) {
	e := mock.New(mock.WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, qr.Origin{}, mock.Call("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, e.CallCount())
}
