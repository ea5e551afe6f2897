package pipeline

import (
	"testing"

	"github.com/relayagent/relay/internal/observability"
	"github.com/relayagent/relay/pkg/models"
)

func TestEmitterDropsOnOverflowButKeepsTerminal(t *testing.T) {
	e := NewEmitter(2, observability.NewNopLogger(), nil)

	// Nobody is draining yet; the buffer holds 2, the rest drop.
	for i := 0; i < 10; i++ {
		e.Emit(models.Event{Type: models.EventModelDelta})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.EmitTerminal(models.Event{Type: models.EventComplete})
	}()

	var got []models.Event
	for ev := range e.Events() {
		got = append(got, ev)
	}
	<-done

	if len(got) != 3 {
		t.Fatalf("expected 2 buffered + 1 terminal, got %d", len(got))
	}
	if got[len(got)-1].Type != models.EventComplete {
		t.Fatal("terminal event must be delivered last")
	}
}

func TestEmitterExactlyOneTerminal(t *testing.T) {
	e := NewEmitter(8, observability.NewNopLogger(), nil)

	go func() {
		e.EmitTerminal(models.Event{Type: models.EventError})
		// Double faults must not panic or emit a second terminal.
		e.EmitTerminal(models.Event{Type: models.EventComplete})
		e.Emit(models.Event{Type: models.EventModelDelta})
	}()

	var terminals int
	for ev := range e.Events() {
		if ev.Type.IsTerminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", terminals)
	}
}

func TestEmitterSequenceMonotonic(t *testing.T) {
	e := NewEmitter(16, observability.NewNopLogger(), nil)

	for i := 0; i < 5; i++ {
		e.Emit(models.Event{Type: models.EventModelDelta})
	}
	go e.EmitTerminal(models.Event{Type: models.EventComplete})

	var last uint64
	for ev := range e.Events() {
		if ev.Sequence <= last {
			t.Fatalf("sequence not monotonic: %d after %d", ev.Sequence, last)
		}
		last = ev.Sequence
		if ev.Version != EventSchemaVersion {
			t.Errorf("event missing schema version: %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Error("event missing timestamp")
		}
	}
}
