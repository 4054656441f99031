// Package trace records what a sweep decided for each job, in a canonical
// form that does not depend on timing or worker scheduling.
package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SweepTrace is the canonical record of one sweep.
//
// It holds logical decisions only: no timestamps, durations, exit codes or
// error text. Two runs of the same sweep input that take the same decisions
// produce byte-identical canonical JSON, regardless of completion order in
// the parallel phase.
type SweepTrace struct {
	// SweepHash identifies the sweep input (see Digest).
	SweepHash string
	Events    []Event
}

// EventKind discriminates Event. The string values are part of the canonical
// bytes; do not rename.
type EventKind string

const (
	EventJobRejected      EventKind = "JobRejected"
	EventProgenitorReused EventKind = "ProgenitorReused"
	EventProgenitorCached EventKind = "ProgenitorCached"
	EventStageExecuted    EventKind = "StageExecuted"
	EventStageFailed      EventKind = "StageFailed"
	EventJobTimedOut      EventKind = "JobTimedOut"
	EventJobSkipped       EventKind = "JobSkipped"
	EventResultExported   EventKind = "ResultExported"
	EventExportFailed     EventKind = "ExportFailed"
)

// Event is one logical decision about one job.
type Event struct {
	Kind EventKind

	// Job is the job's canonical name.
	Job string

	// Stage names the stage the event refers to, when there is one.
	Stage string

	// Reason is a stable reason code such as "NonZeroExit" or "Interrupted".
	Reason string

	// Artifacts lists stable artifact identifiers (cache keys, export paths
	// relative to the data directory).
	Artifacts []string
}

// Validate checks the trace invariants.
func (t *SweepTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.SweepHash == "" {
		return errors.New("sweepHash is required")
	}
	for i, e := range t.Events {
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if e.Job == "" {
			return fmt.Errorf("events[%d].job is required for kind %q", i, e.Kind)
		}
		for j, a := range e.Artifacts {
			if a == "" {
				return fmt.Errorf("events[%d].artifacts[%d] is empty", i, j)
			}
		}
	}
	return nil
}

// Canonicalize sorts events by (job, kind order, stage, reason, artifacts)
// and normalizes empty artifact lists to nil.
func (t *SweepTrace) Canonicalize() {
	if t == nil {
		return
	}
	for i := range t.Events {
		if len(t.Events[i].Artifacts) == 0 {
			t.Events[i].Artifacts = nil
			continue
		}
		art := append([]string(nil), t.Events[i].Artifacts...)
		sort.Strings(art)
		t.Events[i].Artifacts = art
	}

	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		if a.Job != b.Job {
			return a.Job < b.Job
		}
		if kindOrder(a.Kind) != kindOrder(b.Kind) {
			return kindOrder(a.Kind) < kindOrder(b.Kind)
		}
		if a.Stage != b.Stage {
			return a.Stage < b.Stage
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		return lessStrings(a.Artifacts, b.Artifacts)
	})
}

// kindOrder follows the life of a job.
func kindOrder(k EventKind) int {
	switch k {
	case EventJobRejected:
		return 10
	case EventProgenitorReused:
		return 20
	case EventStageExecuted:
		return 30
	case EventProgenitorCached:
		return 40
	case EventStageFailed:
		return 50
	case EventJobTimedOut:
		return 60
	case EventJobSkipped:
		return 70
	case EventResultExported:
		return 80
	case EventExportFailed:
		return 90
	default:
		return 1000
	}
}

func lessStrings(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// CanonicalJSON returns the canonical encoding without mutating t.
func (t SweepTrace) CanonicalJSON() ([]byte, error) {
	c := SweepTrace{SweepHash: t.SweepHash, Events: append([]Event(nil), t.Events...)}
	c.Canonicalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&c)
}

// Hash is the sha256 of the canonical JSON.
func (t SweepTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return Digest(b), nil
}

// WriteFile writes the canonical JSON to path, replacing it atomically.
func (t SweepTrace) WriteFile(path string) error {
	b, err := t.CanonicalJSON()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(append(b, '\n')); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MarshalJSON fixes field order.
func (t SweepTrace) MarshalJSON() ([]byte, error) {
	if t.SweepHash == "" {
		return nil, errors.New("sweepHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"sweepHash":`)
	writeString(&buf, t.SweepHash)
	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"kind":`)
	writeString(&buf, string(e.Kind))
	buf.WriteString(`,"job":`)
	writeString(&buf, e.Job)

	if e.Stage != "" {
		buf.WriteString(`,"stage":`)
		writeString(&buf, e.Stage)
	}
	if e.Reason != "" {
		buf.WriteString(`,"reason":`)
		writeString(&buf, e.Reason)
	}
	if len(e.Artifacts) > 0 {
		art := append([]string(nil), e.Artifacts...)
		sort.Strings(art)
		buf.WriteString(`,"artifacts":[`)
		for i, a := range art {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(&buf, a)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
