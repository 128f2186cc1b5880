package overlay

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/nirmata/dtoverlay/pkg/changeset"
	"github.com/nirmata/dtoverlay/pkg/config"
	"github.com/nirmata/dtoverlay/pkg/dtree"
	"github.com/nirmata/dtoverlay/pkg/event"
	"github.com/nirmata/dtoverlay/pkg/metrics"
	"github.com/nirmata/dtoverlay/pkg/notify"
)

// Decoder turns a raw overlay buffer into an unflattened, phandle-resolved
// overlay tree ready for fragment discovery. In production this is
// pkg/fdt.Decode composed with pkg/phandle.Resolve; tests can supply a
// stub that builds a *dtree.Node tree directly.
type Decoder func(data []byte, live *dtree.Tree) (overlayRoot *dtree.Node, err error)

// Manager is the single-writer orchestrator of the overlay lifecycle: it
// owns the live tree, the registry of applied changesets, the corruption
// latch, the notifier bus and the two mutexes that serialize every public
// operation, exposing a handful of public methods as the only way to
// reach any of that state.
type Manager struct {
	// overlayMu is held for the full duration of an Apply or Remove,
	// serializing every change to the live tree, the registry and the id
	// allocator.
	overlayMu sync.Mutex
	// phandleMu is held only while resolving or allocating phandles,
	// narrower than overlayMu because phandle resolution is the one
	// sub-step pkg/phandle needs isolated for its own bookkeeping.
	phandleMu sync.Mutex

	tree     *dtree.Tree
	registry *Registry
	latch    *Latch
	bus      *notify.Bus
	metrics  *metrics.Metrics
	config   *config.OverlayConfig
	decode   Decoder

	// applyEdits/revertEdits default to changeset.Apply/changeset.Revert;
	// tests override them to simulate a primitive-engine failure without
	// needing an edit log the real builder would never produce.
	applyEdits  func(*dtree.Tree, changeset.Log) (int, error)
	revertEdits func(*dtree.Tree, changeset.Log, int) (int, error)

	nextID int
}

// NewManager wires a Manager around an existing live tree. decode may be
// nil, in which case Apply always fails decoding (useful only for tests
// that drive the builder directly); cfg may be nil to mean "no target
// filter policy"; m may be nil to mean metrics.Noop().
func NewManager(tree *dtree.Tree, decode Decoder, cfg *config.OverlayConfig, m *metrics.Metrics) *Manager {
	if m == nil {
		m = metrics.Noop()
	}
	return &Manager{
		tree:        tree,
		registry:    NewRegistry(),
		latch:       NewLatch(),
		bus:         notify.NewBus(),
		metrics:     m,
		config:      cfg,
		decode:      decode,
		applyEdits:  changeset.Apply,
		revertEdits: changeset.Revert,
		nextID:      1,
	}
}

// RegisterNotify adds a lifecycle subscriber, passthrough to the
// underlying notifier bus.
func (mgr *Manager) RegisterNotify(cb notify.Callback, cookie interface{}) {
	mgr.bus.Register(cb, cookie)
}

// UnregisterNotify removes a previously registered subscriber.
func (mgr *Manager) UnregisterNotify(cookie interface{}) {
	mgr.bus.Unregister(cookie)
}

// Apply decodes an overlay blob, resolves its fragments, runs the
// PRE_APPLY veto, builds the primitive edit log, validates it, applies it
// to the live tree, and on success registers the changeset and fires
// POST_APPLY. base is the optional live node used to resolve a relative
// target-path; pass nil to treat every target-path as absolute.
//
// Only a POST_APPLY notifier failure returns a real, persisted changeset
// id alongside its error — every earlier failure (decode, resolve, veto,
// build, validate, or a primitive-apply that was cleanly reverted) returns
// (0, err) with nothing left in the registry.
func (mgr *Manager) Apply(data []byte, base *dtree.Node) (int, error) {
	start := time.Now()
	mgr.overlayMu.Lock()
	defer mgr.overlayMu.Unlock()
	defer func() { mgr.metrics.ApplyDuration.Observe(time.Since(start).Seconds()) }()

	if mgr.latch.IsSet() {
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("%w: corruption latch is set, refusing apply", ErrBusy)
	}

	if mgr.decode == nil {
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("%w: no decoder configured", ErrInvalid)
	}

	mgr.phandleMu.Lock()
	overlayRoot, err := mgr.decode(data, mgr.tree)
	mgr.phandleMu.Unlock()
	if err != nil {
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("apply: decode: %w", err)
	}

	frags, err := discoverFragments(mgr.tree, overlayRoot, base)
	if err != nil {
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("apply: %w", err)
	}

	if mgr.config != nil {
		for _, f := range frags {
			if mgr.config.ToFilter(f.Target.Path()) {
				mgr.releaseAll(frags)
				mgr.metrics.ApplyFailures.Inc()
				return 0, fmt.Errorf("%w: target %s denied by configuration", ErrInvalid, f.Target.Path())
			}
		}
	}

	id := mgr.nextID

	if err := mgr.bus.Notify(notify.Event{Action: notify.PreApply, OverlayID: id}); err != nil {
		mgr.releaseAll(frags)
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("apply: rejected by subscriber: %w", err)
	}

	b := newBuilder(id)
	var hasSymbols bool
	for _, f := range frags {
		if f.IsSymbols {
			hasSymbols = true
			if err := b.buildSymbolsFragment(overlayRoot, frags, f); err != nil {
				mgr.releaseAll(frags)
				mgr.metrics.ApplyFailures.Inc()
				return 0, fmt.Errorf("apply: %w", err)
			}
			continue
		}
		if err := b.buildFragment(f); err != nil {
			mgr.releaseAll(frags)
			mgr.metrics.ApplyFailures.Inc()
			return 0, fmt.Errorf("apply: %w", err)
		}
	}

	if err := checkDuplicates(b.log); err != nil {
		mgr.releaseAll(frags)
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("apply: %w", err)
	}

	applied, applyErr := mgr.applyEdits(mgr.tree, b.log)
	if applyErr != nil {
		msg, _ := event.GetMsg(event.FOverlayApplyFailed, id, applyErr)
		glog.Error(msg)

		if _, revertErr := mgr.revertEdits(mgr.tree, b.log, applied); revertErr != nil {
			mgr.latch.SetApplyFail()
			mgr.metrics.LatchTrips.Inc()
			lmsg, _ := event.GetMsg(event.FOverlayApplyRevertFailed, id, revertErr)
			glog.Error(lmsg)
			mgr.releaseAll(frags)
			mgr.metrics.ApplyFailures.Inc()
			return 0, fmt.Errorf("apply: %w (internal revert also failed, corruption latch set: %v)", applyErr, revertErr)
		}

		mgr.releaseAll(frags)
		mgr.metrics.ApplyFailures.Inc()
		return 0, fmt.Errorf("apply: %w", applyErr)
	}

	mgr.notifyEdits(notify.EditApplied, id, b.log)

	cs := &Changeset{
		ID:          id,
		Fragments:   frags,
		HasSymbols:  hasSymbols,
		Edits:       b.log,
		State:       StatePostApply,
		OverlayRoot: overlayRoot,
		RawBuffer:   data,
	}
	mgr.registry.Add(cs)
	mgr.nextID++
	mgr.metrics.AppliesTotal.Inc()
	mgr.metrics.RegistryDepth.Set(float64(mgr.registry.Len()))

	if err := mgr.bus.Notify(notify.Event{Action: notify.PostApply, OverlayID: id}); err != nil {
		msg, _ := event.GetMsg(event.FSubscriberRejected, notify.PostApply.String(), id, err)
		glog.Warning(msg)
		return id, fmt.Errorf("apply: overlay %d applied but a POST_APPLY subscriber returned an error: %w", id, err)
	}

	smsg, _ := event.GetMsg(event.SOverlayApplied, id, len(frags))
	glog.Info(smsg)
	return id, nil
}

// Remove verifies the changeset exists and is topmost, runs the
// PRE_REMOVE veto, reverts its primitive edit log, releases its fragment
// target handles, and removes it from the registry.
func (mgr *Manager) Remove(id int) error {
	start := time.Now()
	mgr.overlayMu.Lock()
	defer mgr.overlayMu.Unlock()
	defer func() { mgr.metrics.RemoveDuration.Observe(time.Since(start).Seconds()) }()

	if mgr.latch.IsSet() {
		mgr.metrics.RemoveFailures.Inc()
		return fmt.Errorf("%w: corruption latch is set, refusing remove", ErrBusy)
	}

	cs := mgr.registry.Get(id)
	if cs == nil {
		mgr.metrics.RemoveFailures.Inc()
		return fmt.Errorf("%w: no such overlay %d", ErrNoDev, id)
	}

	if blockingID, safe := mgr.registry.blockingID(cs); !safe {
		mgr.metrics.NotTopmost.Inc()
		mgr.metrics.RemoveFailures.Inc()
		msg, _ := event.GetMsg(event.FOverlayNotTopmost, id, blockingID)
		glog.Warning(msg)
		return fmt.Errorf("%w: overlay %d is not topmost", ErrBusy, id)
	}

	if err := mgr.bus.Notify(notify.Event{Action: notify.PreRemove, OverlayID: id}); err != nil {
		mgr.metrics.RemoveFailures.Inc()
		return fmt.Errorf("remove: rejected by subscriber: %w", err)
	}

	reverted, revertErr := mgr.revertEdits(mgr.tree, cs.Edits, len(cs.Edits))
	if revertErr != nil {
		msg, _ := event.GetMsg(event.FOverlayRemoveFailed, id, revertErr)
		glog.Error(msg)

		remaining := cs.Edits[len(cs.Edits)-reverted : len(cs.Edits)]
		if _, reapplyErr := mgr.applyEdits(mgr.tree, remaining); reapplyErr != nil {
			mgr.latch.SetRevertFail()
			mgr.metrics.LatchTrips.Inc()
			lmsg, _ := event.GetMsg(event.FOverlayRemoveRevertFailed, id, reapplyErr)
			glog.Error(lmsg)
			mgr.metrics.RemoveFailures.Inc()
			return fmt.Errorf("remove: %w (internal re-apply also failed, corruption latch set: %v)", revertErr, reapplyErr)
		}

		mgr.metrics.RemoveFailures.Inc()
		return fmt.Errorf("remove: %w", revertErr)
	}

	mgr.notifyEdits(notify.EditReverted, id, cs.Edits)

	cs.release()
	mgr.registry.Remove(id)
	mgr.metrics.RemovesTotal.Inc()
	mgr.metrics.RegistryDepth.Set(float64(mgr.registry.Len()))

	if err := mgr.bus.Notify(notify.Event{Action: notify.PostRemove, OverlayID: id}); err != nil {
		msg, _ := event.GetMsg(event.FSubscriberRejected, notify.PostRemove.String(), id, err)
		glog.Warning(msg)
		return fmt.Errorf("remove: overlay %d removed but a POST_REMOVE subscriber returned an error: %w", id, err)
	}

	smsg, _ := event.GetMsg(event.SOverlayRemoved, id)
	glog.Info(smsg)
	return nil
}

// RemoveAll removes every applied overlay from topmost to bottommost, so
// each removal sees a registry where it is still topmost. It stops at the
// first failure and returns that error; already-removed overlays stay
// removed.
func (mgr *Manager) RemoveAll() error {
	var ids []int
	mgr.overlayMu.Lock()
	ids = mgr.registry.RemoveOrder()
	mgr.overlayMu.Unlock()

	for _, id := range ids {
		if err := mgr.Remove(id); err != nil {
			return fmt.Errorf("remove_all: stopped at overlay %d: %w", id, err)
		}
	}
	return nil
}

// Len reports how many overlays are currently applied.
func (mgr *Manager) Len() int {
	mgr.overlayMu.Lock()
	defer mgr.overlayMu.Unlock()
	return mgr.registry.Len()
}

// Latched reports whether the corruption latch has tripped.
func (mgr *Manager) Latched() bool {
	return mgr.latch.IsSet()
}

func (mgr *Manager) releaseAll(frags []Fragment) {
	for _, f := range frags {
		f.Target.Release()
	}
}

// notifyEdits delivers one EditApplied/EditReverted notification per entry
// of log, in order. A subscriber error is logged and otherwise ignored:
// per-edit notifications are never vetoable and never unwind the edit that
// already succeeded.
func (mgr *Manager) notifyEdits(action notify.Action, id int, log changeset.Log) {
	for _, e := range log {
		if err := mgr.bus.Notify(notify.Event{Action: action, OverlayID: id, Edit: e}); err != nil {
			glog.Warningf("overlay: subscriber rejected %s for overlay %d edit %s: %v", action, id, e, err)
		}
	}
}
