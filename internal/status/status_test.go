// internal/status/status_test.go
package status

import (
	"errors"
	"testing"
	"time"
)

func TestEncode_Layout(t *testing.T) {
	regs := Encode(Snapshot{
		Health:         HealthError,
		LastErrorCode:  3,
		SecondsInError: 12,
		State:          Faulted,
	}, "FMS")

	if len(regs) != SlotsPerDevice {
		t.Fatalf("expected %d regs, got %d", SlotsPerDevice, len(regs))
	}
	if regs[SlotHealthCode] != HealthError {
		t.Fatalf("health slot: got %d", regs[SlotHealthCode])
	}
	if regs[SlotLastErrorCode] != 3 || regs[SlotSecondsInError] != 12 {
		t.Fatalf("unexpected error slots: %v", regs[:3])
	}
	if regs[SlotConnectionState] != uint16(Faulted) {
		t.Fatalf("state slot: got %d", regs[SlotConnectionState])
	}
	for i := SlotReservedStart; i <= SlotReservedEnd; i++ {
		if regs[i] != 0 {
			t.Fatalf("reserved slot %d not zero", i)
		}
	}
	// "FM" then "S\x00"
	if regs[SlotDeviceNameStart] != 0x464D || regs[SlotDeviceNameStart+1] != 0x5300 {
		t.Fatalf("unexpected name regs: %#x %#x", regs[SlotDeviceNameStart], regs[SlotDeviceNameStart+1])
	}
}

func TestEncodeDeviceName_TruncatesAndSanitizes(t *testing.T) {
	regs := EncodeDeviceName("ABCDEFGHIJKLMNOPQRST\x01")
	if len(regs) != SlotDeviceNameSlots {
		t.Fatalf("expected %d regs, got %d", SlotDeviceNameSlots, len(regs))
	}
	if regs[7] != uint16('O')<<8|uint16('P') {
		t.Fatalf("expected truncation at 16 chars, last reg %#x", regs[7])
	}

	regs = EncodeDeviceName("A\x01")
	if regs[0] != uint16('A')<<8|uint16('?') {
		t.Fatalf("expected sanitized byte, got %#x", regs[0])
	}
}

func TestHealthOf(t *testing.T) {
	cases := map[State]uint16{
		Connected:    HealthOK,
		Faulted:      HealthError,
		Connecting:   HealthStale,
		Disconnected: HealthDisabled,
	}
	for s, want := range cases {
		if got := HealthOf(s); got != want {
			t.Fatalf("HealthOf(%s)=%d want %d", s, got, want)
		}
	}
}

func TestCell_SwapReturnsPrevious(t *testing.T) {
	var c Cell
	if c.Load() != Disconnected {
		t.Fatalf("zero cell must be disconnected")
	}
	if prev := c.Store(Connecting); prev != Disconnected {
		t.Fatalf("expected previous disconnected, got %s", prev)
	}
	if c.Load() != Connecting {
		t.Fatalf("expected connecting")
	}
	if Faulted.Transmitting() || !Connected.Transmitting() {
		t.Fatalf("only connected transmits")
	}
}

func TestNotifier_FanOutAndLastText(t *testing.T) {
	n := NewNotifier()
	a, cancelA := n.Subscribe(4)
	b, cancelB := n.Subscribe(4)
	defer cancelB()

	n.Publish(Event{Kind: EventStatus, Text: "Connected."})
	n.Publish(Event{Kind: EventError, Text: "Error: reset"})

	for _, ch := range []<-chan Event{a, b} {
		e := <-ch
		if e.Kind != EventStatus || e.At.IsZero() {
			t.Fatalf("unexpected first event %+v", e)
		}
		if e := <-ch; e.Kind != EventError {
			t.Fatalf("unexpected second event %+v", e)
		}
	}

	if n.LastStatus() != "Connected." || n.LastError() != "Error: reset" {
		t.Fatalf("unexpected last texts %q %q", n.LastStatus(), n.LastError())
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestNotifier_PublishNeverBlocks(t *testing.T) {
	n := NewNotifier()
	_, cancel := n.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Publish(Event{Kind: EventStatus, Text: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if n.Dropped() != 9 {
		t.Fatalf("expected 9 dropped, got %d", n.Dropped())
	}
}

func TestNotifier_LastFaultFollowsErrors(t *testing.T) {
	n := NewNotifier()
	if n.LastFault() != nil {
		t.Fatalf("expected no fault")
	}

	cause := errors.New("reset by peer")
	n.Publish(Event{Kind: EventError, Text: "Error: reset", Err: cause})
	n.Publish(Event{Kind: EventStatus, Text: "Connecting..."})

	if n.LastFault() != cause {
		t.Fatalf("status events must not clear the last fault")
	}
}
