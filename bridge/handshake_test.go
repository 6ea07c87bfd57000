package bridge

import (
	"errors"
	"testing"

	"github.com/user/spark-bridge/spark"
)

func TestNextStepCycles(t *testing.T) {
	cur := 0
	var seen []int
	for i := 0; i < 12; i++ {
		cur = NextStep(cur, spark.HandshakeSteps)
		seen = append(seen, cur)
	}
	want := []int{1, 2, 3, 4, 5, 1, 2, 3, 4, 5, 1, 2}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("step sequence %v, want %v", seen, want)
		}
	}
}

func TestHandshakeEmitsCannedSequence(t *testing.T) {
	state := NewState()
	n := &recordingNotifier{}
	h := NewHandshake(state, n, 0)

	for i := 0; i < 10; i++ {
		step, err := h.Step()
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if want := i%5 + 1; step != want {
			t.Errorf("call %d: step %d, want %d", i, step, want)
		}
	}

	if len(n.bursts) != 10 {
		t.Fatalf("expected 10 bursts, got %d", len(n.bursts))
	}
	sizes := []int{1, 1, 1, 7, 1}
	for i, burst := range n.bursts {
		if len(burst) != sizes[i%5] {
			t.Errorf("burst %d: %d messages, want %d", i, len(burst), sizes[i%5])
		}
	}
	if got := n.bursts[0][0]; len(got) != 29 {
		t.Errorf("firmware message is %d bytes", len(got))
	}
	t.Logf("✅ 10 steps, cursor at %d", state.Cursor())
}

func TestAppDisconnectResetsCursor(t *testing.T) {
	state := NewState()
	h := NewHandshake(state, &recordingNotifier{}, 0)
	state.AppLinkUp("A1")
	h.Step()
	h.Step()
	h.Step()
	if state.Cursor() != 3 {
		t.Fatalf("cursor = %d", state.Cursor())
	}

	state.AppLinkDown()
	snap := state.Snapshot()
	if snap.AppConnected || snap.HandshakeCursor != 0 {
		t.Errorf("unexpected state after disconnect: %+v", snap)
	}

	step, _ := h.Step()
	if step != 1 {
		t.Errorf("first step after reconnect = %d", step)
	}
}

func TestHandshakeNotifyFailureStillAdvances(t *testing.T) {
	state := NewState()
	h := NewHandshake(state, &recordingNotifier{err: errors.New("no subscribers")}, 0)
	if _, err := h.Step(); err == nil {
		t.Fatal("expected notify error")
	}
	if state.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", state.Cursor())
	}
	// the failed step is not repeated
	step, _ := h.Step()
	if step != 2 || state.Cursor() != 2 {
		t.Errorf("next step = %d, cursor = %d, want 2", step, state.Cursor())
	}
}

func TestSnapshotStruct(t *testing.T) {
	state := NewState()
	state.AmpLinkUp(DeviceIdentity{Address: "F7:01", Name: "Spark 40 Audio", RSSI: -42})
	state.AdvanceCursor(spark.HandshakeSteps)
	st := state.Snapshot().Struct()
	if !st.Fields["amp_connected"].GetBoolValue() {
		t.Error("amp_connected should be true")
	}
	if st.Fields["handshake_cursor"].GetNumberValue() != 1 {
		t.Errorf("handshake_cursor = %v", st.Fields["handshake_cursor"])
	}
	if st.Fields["amp_address"].GetStringValue() != "F7:01" {
		t.Errorf("amp_address = %v", st.Fields["amp_address"])
	}
}
