package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type depthStub int64

func (d depthStub) QueueDepth() int64 { return int64(d) }

func TestHealth_Check(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("refused") })

	st := NewHealthService(depthStub(4), 0).
		Register("database", up).
		Register("redis", nil).
		Check(context.Background())
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, "up", st.Components["database"])
	assert.Equal(t, "disabled", st.Components["redis"])
	assert.EqualValues(t, 4, st.QueueDepth)

	st = NewHealthService(nil, 0).
		Register("database", up).
		Register("redis", down).
		Check(context.Background())
	assert.Equal(t, "degraded", st.Status)
	assert.Equal(t, "down: refused", st.Components["redis"])
}
