package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestItem_RemainingTime(t *testing.T) {
	now := time.Now()
	item := Item{EndTime: now.Add(time.Minute), Status: StatusActive}

	assert.Equal(t, time.Minute, item.RemainingTime(now))
	assert.Equal(t, time.Duration(0), item.RemainingTime(now.Add(time.Minute)))
	assert.Equal(t, time.Duration(0), item.RemainingTime(now.Add(time.Hour)), "never negative")
}

func TestItem_Expired(t *testing.T) {
	now := time.Now()
	item := Item{EndTime: now}

	assert.True(t, item.Expired(now), "end instant counts as expired")
	assert.True(t, item.Expired(now.Add(time.Second)))
	assert.False(t, item.Expired(now.Add(-time.Second)))
}
