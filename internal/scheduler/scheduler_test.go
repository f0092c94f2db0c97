package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingPurger struct {
	calls int
	err   error
}

func (p *countingPurger) Purge(context.Context) (int64, error) {
	p.calls++
	return 3, p.err
}

func TestSweepRateLimits_WithoutRedis(t *testing.T) {
	p := &countingPurger{}
	s := New(p, nil)
	s.sweepRateLimits()
	assert.Equal(t, 1, p.calls)

	p.err = errors.New("db down")
	s.sweepRateLimits()
	assert.Equal(t, 2, p.calls)
}

func TestStart_RejectsBadSpec(t *testing.T) {
	s := New(&countingPurger{}, nil)
	assert.Error(t, s.Start("not a cron spec"))

	assert.NoError(t, s.Start("@every 1h"))
	s.Stop()
}
