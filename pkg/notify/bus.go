// Package notify implements the overlay lifecycle notifier bus: a
// registry of callback+cookie subscribers, delivered PRE_APPLY/
// POST_APPLY/PRE_REMOVE/POST_REMOVE events in order, synchronously,
// serialized by the caller's mutex. The public surface (Notify) and the
// per-subscriber dispatch loop are split into a small public contract
// backed by a private worker.
package notify

import (
	"fmt"

	"github.com/golang/glog"
)

// Action identifies which phase of an apply/remove a notification carries,
// mirroring the EventMsg-enum-with-String() idiom this codebase uses
// throughout for small closed sets of named events.
type Action int

const (
	PreApply Action = iota
	PostApply
	PreRemove
	PostRemove
	EditApplied
	EditReverted
)

func (a Action) String() string {
	return [...]string{
		"PRE_APPLY",
		"POST_APPLY",
		"PRE_REMOVE",
		"POST_REMOVE",
		"EDIT_APPLIED",
		"EDIT_REVERTED",
	}[a]
}

// Vetoable reports whether a subscriber's rejection of this action should
// abort the in-flight operation. Only PRE_APPLY and PRE_REMOVE are
// vetoable; other phases' errors are logged and propagated but never
// abort.
func (a Action) Vetoable() bool {
	return a == PreApply || a == PreRemove
}

// Event is the payload delivered to subscribers.
type Event struct {
	Action    Action
	OverlayID int
	// Edit is populated only for EditApplied/EditReverted notifications.
	Edit fmt.Stringer
}

// Callback is a subscriber's handler. It may return a non-nil error to
// veto a vetoable action; errors returned for non-vetoable actions are
// logged but otherwise ignored by the bus (the caller still sees the first
// such error, returned from Notify).
type Callback func(Event) error

type subscriber struct {
	cb     Callback
	cookie interface{}
}

// Bus is the process-wide notifier registry. Zero value is usable.
type Bus struct {
	subs []subscriber
}

// NewBus returns an empty notifier bus.
func NewBus() *Bus {
	return &Bus{}
}

// Register adds a subscriber, identified later for Unregister by cookie
// (typically a pointer the caller owns).
func (b *Bus) Register(cb Callback, cookie interface{}) {
	b.subs = append(b.subs, subscriber{cb: cb, cookie: cookie})
}

// Unregister removes the subscriber registered with the given cookie, if
// any. Subscribers must not retain pointers to overlay memory past
// POST_REMOVE; Unregister is how they stop receiving further events about
// a changeset they no longer care about.
func (b *Bus) Unregister(cookie interface{}) {
	for i, s := range b.subs {
		if s.cookie == cookie {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Notify delivers ev to every subscriber in registration order. If the
// action is vetoable, the first subscriber error aborts delivery to the
// remaining subscribers and is returned as-is. If the action is not
// vetoable, every subscriber is called regardless of prior errors; the
// first error encountered (if any) is returned for the caller to surface,
// but it never represents a state rollback requirement.
func (b *Bus) Notify(ev Event) error {
	var first error
	for _, s := range b.subs {
		err := s.cb(ev)
		if err == nil {
			continue
		}
		glog.Warningf("notifier: subscriber rejected %s for overlay %d: %v", ev.Action, ev.OverlayID, err)
		if first == nil {
			first = err
		}
		if ev.Action.Vetoable() {
			return err
		}
	}
	return first
}
