package later_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/ash2txt/htreefs/internal/later"
)

type LaterTest struct {
	suite.Suite
	ctx context.Context
	l   *later.Later
}

func TestLaterSuite(t *testing.T) {
	suite.Run(t, new(LaterTest))
}

func (t *LaterTest) SetupTest() {
	t.ctx = context.Background()
	t.l = later.New()
}

func (t *LaterTest) TestRegularFiresEveryTick() {
	count := 0
	t.l.Add(func(context.Context) { count++ })

	t.l.DoRegularly(t.ctx, false)
	t.l.DoRegularly(t.ctx, false)
	t.l.DoRegularly(t.ctx, false)

	assert.Equal(t.T(), 3, count)
	assert.Equal(t.T(), 1, t.l.Len())
}

func (t *LaterTest) TestOnceFiresAfterTicksElapse() {
	fired := 0
	t.l.Once(func(context.Context) { fired++ }, 2)

	// tick 1: ticks 2 -> 1, not < 0
	t.l.DoRegularly(t.ctx, false)
	assert.Equal(t.T(), 0, fired)
	// tick 2: ticks 1 -> 0, not < 0
	t.l.DoRegularly(t.ctx, false)
	assert.Equal(t.T(), 0, fired)
	// tick 3: ticks 0 -> -1, fires
	t.l.DoRegularly(t.ctx, false)
	assert.Equal(t.T(), 1, fired)
	assert.Equal(t.T(), 0, t.l.Len())
}

func (t *LaterTest) TestOnceZeroTicksFiresOnNextCall() {
	fired := 0
	t.l.Once(func(context.Context) { fired++ }, 0)

	t.l.DoRegularly(t.ctx, false)
	assert.Equal(t.T(), 1, fired)
}

func (t *LaterTest) TestForceFiresImmediately() {
	fired := false
	t.l.Once(func(context.Context) { fired = true }, 50)

	t.l.DoRegularly(t.ctx, true)
	assert.True(t.T(), fired)
	assert.Equal(t.T(), 0, t.l.Len())
}

func (t *LaterTest) TestRemoveCancelsTask() {
	fired := false
	h := t.l.Once(func(context.Context) { fired = true }, 0)
	t.l.Remove(h)

	t.l.DoRegularly(t.ctx, false)
	assert.False(t.T(), fired)
}
