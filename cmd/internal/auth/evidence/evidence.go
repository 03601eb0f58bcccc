// Package evidence models the append-only ledger of device/browser signals
// observed for a session and decides when a change is meaningful enough to
// rotate the evidence key.
package evidence

import (
	"errors"
	"maps"
	"time"
)

// MissingKey stands in for an absent evidence key cookie. It never matches a
// stored key, so a client without an ek always triggers issuance.
const MissingKey = "+"

// ErrNoKeySource is returned when Next needs a fresh key but has no generator.
var ErrNoKeySource = errors.New("evidence: no key source")

// Signals are observed request properties (ip, agent, secure, ...).
type Signals map[string]string

// Record is one ledger entry. EK is the evidence key current as of TS.
// User is set on attachment records.
type Record struct {
	TS      time.Time `json:"ts"`
	EK      string    `json:"ek,omitempty"`
	User    string    `json:"user,omitempty"`
	Signals Signals   `json:"signals,omitempty"`
}

// Ledger is ordered oldest first. It is only ever appended to.
type Ledger []Record

// KeyFunc mints a new evidence key.
type KeyFunc func() (string, error)

// Last returns the newest record.
func (l Ledger) Last() (Record, bool) {
	if len(l) == 0 {
		return Record{}, false
	}
	return l[len(l)-1], true
}

// LastKeyed returns the newest record that carries an evidence key.
func (l Ledger) LastKeyed() (Record, bool) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].EK != "" {
			return l[i], true
		}
	}
	return Record{}, false
}

// CurrentKey is the evidence key a well-behaved client should be presenting.
func (l Ledger) CurrentKey() string {
	r, ok := l.LastKeyed()
	if !ok {
		return ""
	}
	return r.EK
}

// Current folds all records into the latest value of every signal.
// Records only store the fields that changed, so the fold is the
// authoritative "current" view.
func (l Ledger) Current() Signals {
	cur := make(Signals)
	for _, r := range l {
		maps.Copy(cur, r.Signals)
	}
	return cur
}

// Clone returns a deep copy.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for i, r := range l {
		out[i] = r
		out[i].Signals = maps.Clone(r.Signals)
	}
	return out
}

// Seed builds the first record of a new session.
func Seed(ek string, incoming Signals, now time.Time) Record {
	rec := Record{TS: now, EK: ek}
	if len(incoming) > 0 {
		rec.Signals = maps.Clone(incoming)
	}
	return rec
}

// Diff compares incoming signals and the presented key against the ledger.
// Keys omitted from incoming are not changes. rotate is true when anything
// differs, including the presented key.
func Diff(l Ledger, presentedEK string, incoming Signals) (changed Signals, rotate bool) {
	if presentedEK == "" {
		presentedEK = MissingKey
	}
	if presentedEK != l.CurrentKey() {
		rotate = true
	}

	cur := l.Current()
	for k, v := range incoming {
		old, ok := cur[k]
		if ok && old == v {
			continue
		}
		if changed == nil {
			changed = make(Signals)
		}
		changed[k] = v
		rotate = true
	}
	return changed, rotate
}

// Next decides whether a new record must be appended. It returns the record
// to append and true, or false when nothing differs. The ledger is not
// modified; the appended record carries the freshly minted key.
func Next(l Ledger, presentedEK string, incoming Signals, now time.Time, newKey KeyFunc) (Record, bool, error) {
	changed, rotate := Diff(l, presentedEK, incoming)
	if !rotate {
		return Record{}, false, nil
	}
	if newKey == nil {
		return Record{}, false, ErrNoKeySource
	}
	ek, err := newKey()
	if err != nil {
		return Record{}, false, err
	}
	return Record{TS: now, EK: ek, Signals: changed}, true, nil
}

// Attachment builds the record written when a user attaches to a session.
// It carries the ledger's current key, never the one the request presented,
// so an attach cannot bring a superseded key back into use.
func Attachment(l Ledger, userID string, now time.Time) Record {
	return Record{TS: now, EK: l.CurrentKey(), User: userID}
}
