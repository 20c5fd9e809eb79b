package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newLimiter(5, clock.Now)

	for i := 0; i < 5; i++ {
		ok, _ := l.allow("10.0.0.1")
		assert.True(t, ok, "request %d", i)
	}
	ok, retry := l.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, 12, retry)

	ok, _ = l.allow("10.0.0.2")
	assert.True(t, ok, "clients are limited independently")

	clock.Advance(13 * time.Second)
	ok, _ = l.allow("10.0.0.1")
	assert.True(t, ok)
}

func TestLimiterSweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	l := newLimiter(1, clock.Now)

	for i := 0; i < limiterSweep; i++ {
		l.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	assert.Len(t, l.clients, limiterSweep)

	clock.Advance(limiterIdle + time.Second)
	l.allow("192.168.0.1")
	assert.Len(t, l.clients, 1)
}
