// Package classify implements the disconnect-status taxonomy from the spec's
// ERROR HANDLING DESIGN: it turns an opaque upstream status code into a
// policy decision (reconnect, remediate, or terminate) without the rest of
// the controller ever needing to know the raw code.
package classify

import "fmt"

// Kind is the error-kind taxonomy. It classifies failures by the recovery
// action they require, not by their origin.
type Kind string

const (
	// Transient failures retry with backoff and never surface to the caller.
	Transient Kind = "transient"
	// Remediable failures are repairable in place (e.g. subkey reset) before retrying.
	Remediable Kind = "remediable"
	// Terminal failures have no automated recovery; the session is torn down.
	Terminal Kind = "terminal"
	// Validation failures are bad caller input, returned synchronously.
	Validation Kind = "validation"
	// Capacity failures mean the fleet is full; the caller retries later.
	Capacity Kind = "capacity"
)

// Action is what the SessionController should do about a disconnect.
type Action string

const (
	ActionReconnect Action = "reconnect" // schedule a reconnect with backoff
	ActionRemediate Action = "remediate" // clear subkeys, keep root, then reconnect
	ActionTerminate Action = "terminate" // full cleanup, session destroyed
)

// Disposition is the result of classifying one upstream disconnect status code.
type Disposition struct {
	Name string // human name, e.g. "LoggedOut"
	Kind Kind
	Action
	Reason       string // user-facing message for Terminal dispositions
	ShortBackoff bool   // true for 515/516: reconnect uses the shortened ~2s delay
	MaxAttempts  int    // reconnect bound before promoting to Terminal (0 = n/a);
	// for ActionRemediate this instead bounds *consecutive remediation
	// failures* before promoting to Terminal (§7: "repeated BadSession that
	// fails remediation twice in a row").
}

// table implements §4.5's classification table. Codes not present fall
// through to the "other" transient disposition in Classify.
var table = map[int]Disposition{
	401: {Name: "LoggedOut", Kind: Terminal, Action: ActionTerminate, Reason: "reconnect required"},
	403: {Name: "Forbidden", Kind: Terminal, Action: ActionTerminate, Reason: "account restricted"},
	408: {Name: "TimedOut", Kind: Terminal, Action: ActionTerminate, Reason: "pairing timeout"},
	428: {Name: "ConnectionClosed", Kind: Transient, Action: ActionReconnect, MaxAttempts: 5},
	440: {Name: "ConnectionReplaced", Kind: Terminal, Action: ActionTerminate, Reason: "connection replaced by another device"},
	500: {Name: "BadSession", Kind: Remediable, Action: ActionRemediate, MaxAttempts: 2},
	515: {Name: "RestartRequired", Kind: Transient, Action: ActionReconnect, ShortBackoff: true, MaxAttempts: 10},
	516: {Name: "StreamErrorUnknown", Kind: Transient, Action: ActionReconnect, ShortBackoff: true, MaxAttempts: 10},
}

// otherDisposition is used for any status code not present in the table:
// treated as transient with the standard (non-pairing) bound.
var otherDisposition = Disposition{Name: "Other", Kind: Transient, Action: ActionReconnect, MaxAttempts: 5}

// Classify maps an upstream disconnect status code to its disposition. A nil
// code (no statusCode present on the event) is classified the same as an
// unrecognized code: transient.
func Classify(statusCode *int) Disposition {
	if statusCode == nil {
		return otherDisposition
	}
	if d, ok := table[*statusCode]; ok {
		return d
	}
	return otherDisposition
}

// IsRestart reports whether code is the pairing-normal 515/516 pair, used by
// the controller's voluntary-disconnect ordering rule (§4.5).
func IsRestart(statusCode *int) bool {
	if statusCode == nil {
		return false
	}
	return *statusCode == 515 || *statusCode == 516
}

// String renders a disposition for logging.
func (d Disposition) String() string {
	return fmt.Sprintf("%s(kind=%s action=%s)", d.Name, d.Kind, d.Action)
}
