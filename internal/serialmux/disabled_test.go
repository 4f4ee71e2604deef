package serialmux

import (
	"context"
	"testing"
	"time"
)

func TestDisabledSerialMux_UnsubscribeClosesChannel(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()

	done := make(chan struct{})
	go func() {
		if _, ok := <-ch; ok {
			t.Errorf("expected channel to be closed on unsubscribe")
		}
		close(done)
	}()

	d.Unsubscribe(id)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for subscriber to be unblocked after Unsubscribe")
	}
}

func TestDisabledSerialMux_CloseClosesAllChannels(t *testing.T) {
	d := NewDisabledSerialMux()
	_, ch1 := d.Subscribe()
	_, ch2 := d.Subscribe()

	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, ch := range []chan string{ch1, ch2} {
		select {
		case _, ok := <-ch:
			if ok {
				t.Errorf("channel %d still open", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed", i)
		}
	}

	// Subscribing after close returns an already closed channel.
	_, ch3 := d.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("expected closed channel after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDisabledSerialMux_RecordsCommands(t *testing.T) {
	d := NewDisabledSerialMux()
	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	d.SendCommand("#0P1500T500")
	d.SendCommand("Q")

	got := d.Sent()
	if len(got) != 2 || got[0] != "#0P1500T500" || got[1] != "Q" {
		t.Errorf("Sent() = %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); err != context.Canceled {
		t.Errorf("Monitor() = %v, want context.Canceled", err)
	}
}
