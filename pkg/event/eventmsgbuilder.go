// Package event builds human-readable messages for overlay lifecycle
// events: a closed enum of message ids, a %-verb template per id, and a
// helper that validates the caller passed the right argument count before
// formatting.
package event

import (
	"fmt"
	"regexp"
)

//Msg identifies an overlay lifecycle event.
type Msg int

const (
	SOverlayApplied Msg = iota
	SOverlayRemoved
	FOverlayApplyFailed
	FOverlayApplyRevertFailed
	FOverlayRemoveFailed
	FOverlayRemoveRevertFailed
	FOverlayNotTopmost
	FOverlayLatched
	FSubscriberRejected
)

func (k Msg) String() string {
	return [...]string{
		"Overlay %d applied successfully with %d fragments",
		"Overlay %d removed successfully",
		"Failed to apply overlay %d: %v",
		"Failed to apply overlay %d and the internal revert also failed: %v. Corruption latch set",
		"Failed to remove overlay %d: %v",
		"Failed to remove overlay %d and the internal re-apply also failed: %v. Corruption latch set",
		"Refused to remove overlay %d: overlay %d applied later touches the same nodes",
		"Refused operation on overlay %d: corruption latch is set",
		"Subscriber rejected %s for overlay %d: %v",
	}[k]
}

const argRegex = `%[sdv]`

//GetMsg returns the formatted message for key, or an error if the wrong
//number of arguments was passed for its template.
func GetMsg(key Msg, args ...interface{}) (string, error) {
	re := regexp.MustCompile(argRegex)
	argsCount := len(re.FindAllString(key.String(), -1))
	if argsCount != len(args) {
		return "", fmt.Errorf("event message %d expects %d arguments, but %d were passed", key, argsCount, len(args))
	}
	return fmt.Sprintf(key.String(), args...), nil
}
