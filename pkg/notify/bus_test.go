package notify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyVetoableAbortsOnFirstError(t *testing.T) {
	bus := NewBus()
	var calledSecond bool
	bus.Register(func(Event) error { return errors.New("nope") }, "a")
	bus.Register(func(Event) error { calledSecond = true; return nil }, "b")

	err := bus.Notify(Event{Action: PreApply})
	require.Error(t, err)
	assert.False(t, calledSecond)
}

func TestNotifyNonVetoableDeliversToAll(t *testing.T) {
	bus := NewBus()
	var calledSecond bool
	bus.Register(func(Event) error { return errors.New("nope") }, "a")
	bus.Register(func(Event) error { calledSecond = true; return nil }, "b")

	err := bus.Notify(Event{Action: PostApply})
	require.Error(t, err)
	assert.True(t, calledSecond)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	bus := NewBus()
	var calls int
	bus.Register(func(Event) error { calls++; return nil }, "cookie")
	bus.Unregister("cookie")

	require.NoError(t, bus.Notify(Event{Action: PreApply}))
	assert.Equal(t, 0, calls)
}
