package bridge

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/spark-bridge/wire"
)

func TestConnectAndSubscribe(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()

	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}
	if !r.b.State().AmpConnected() {
		t.Error("amp link should be up")
	}
	if !r.amp.Subscribed(bridgeAddr) {
		t.Error("bridge did not enable notifications on the amp")
	}

	client := r.b.Central().Client().(*wire.Client)
	if got := client.ConnParams(); got != AmpConnParams {
		t.Errorf("conn params %+v, want %+v", got, AmpConnParams)
	}
	if r.dev.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", r.dev.ClientCount())
	}
	if !r.events.has("amp-connected") {
		t.Error("amp-connected event missing")
	}
	t.Logf("✅ Connected with %s", client.ConnParams())
}

func TestReconnectReusesClient(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()

	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}
	first := r.b.Central().Client()
	first.Disconnect()
	waitFor(t, time.Second, "amp link down", func() bool { return !r.b.State().AmpConnected() })
	r.b.Scan().Stop()

	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if r.b.Central().Client() != first {
		t.Error("reconnect should reuse the known client")
	}
	if r.dev.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", r.dev.ClientCount())
	}
}

func TestReconnectFailureKeepsClient(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()

	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}
	r.b.Central().Client().Disconnect()
	r.b.Scan().Stop()

	r.amp.FailNextConnects(1)
	err := r.b.ConnectAmp(ctx, r.ampIdentity())
	if !errors.Is(err, ErrReconnect) {
		t.Fatalf("expected reconnect failure, got %v", err)
	}
	if r.dev.ClientCount() != 1 {
		t.Errorf("a known client must survive a failed reconnect, have %d", r.dev.ClientCount())
	}
	if r.b.State().AmpConnected() {
		t.Error("amp link should be down")
	}
}

func TestFreshConnectFailureDeletesClient(t *testing.T) {
	r := newRig(t, testConfig())
	r.amp.FailNextConnects(1)

	err := r.b.ConnectAmp(context.Background(), r.ampIdentity())
	if !errors.Is(err, ErrFreshConnect) {
		t.Fatalf("expected fresh connect failure, got %v", err)
	}
	if !errors.Is(err, ErrConnect) {
		t.Error("reasoned connect errors must match the generic sentinel")
	}
	if r.dev.ClientCount() != 0 {
		t.Errorf("failed client was not deleted, %d left", r.dev.ClientCount())
	}
	if !r.events.has("amp-connect-failed") {
		t.Error("amp-connect-failed event missing")
	}
}

func TestConnectTimeout(t *testing.T) {
	r := newRig(t, testConfig())
	r.amp.HangConnects(true)

	start := time.Now()
	err := r.b.ConnectAmp(context.Background(), r.ampIdentity())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("expected connect timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("connect took %v", elapsed)
	}
	if r.dev.ClientCount() != 0 {
		t.Errorf("timed out client was not deleted, %d left", r.dev.ClientCount())
	}
}

func TestCapacityExceeded(t *testing.T) {
	r := newRig(t, testConfig(), wire.WithMaxConnections(1))
	ctx := context.Background()

	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}

	const otherAddr = "F7:00:00:00:00:09"
	if _, err := wire.NewAmp(r.air, otherAddr); err != nil {
		t.Fatalf("Failed to create second amp: %v", err)
	}
	err := r.b.ConnectAmp(ctx, DeviceIdentity{Address: otherAddr})
	if !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if r.dev.ClientCount() != 1 {
		t.Errorf("client count changed to %d", r.dev.ClientCount())
	}
}

func TestSubscribeFailureDisconnects(t *testing.T) {
	r := newRig(t, testConfig())
	r.amp.RejectSubscriptions(true)

	err := r.b.ConnectAmp(context.Background(), r.ampIdentity())
	if !errors.Is(err, ErrSubscribe) {
		t.Fatalf("expected subscribe failure, got %v", err)
	}
	if r.b.Central().Client().IsConnected() {
		t.Error("link must be dropped after a failed subscribe")
	}
	if r.b.State().AmpConnected() {
		t.Error("amp link should be down")
	}
}

func TestSendSplitsIntoFrames(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()
	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}

	msg := bytes.Repeat([]byte{0x5A}, 400)
	if err := r.b.SendToAmp(ctx, [][]byte{msg}, true); err != nil {
		t.Fatalf("SendToAmp failed: %v", err)
	}
	writes := r.amp.Writes()
	if len(writes) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(writes))
	}
	for i, want := range []int{173, 173, 54} {
		if len(writes[i]) != want {
			t.Errorf("frame %d is %d bytes, want %d", i, len(writes[i]), want)
		}
	}
	if !bytes.Equal(r.amp.Received(), msg) {
		t.Error("reassembled payload differs")
	}
}

func TestWriteFailureAbortsBatch(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()
	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}

	r.amp.FailWriteNumber(3)
	msg := bytes.Repeat([]byte{0x11}, 5*173)
	err := r.b.SendToAmp(ctx, [][]byte{msg}, true)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected write failure, got %v", err)
	}
	if got := len(r.amp.Writes()); got != 2 {
		t.Errorf("expected 2 frames delivered, got %d", got)
	}
	if r.b.State().AmpConnected() {
		t.Error("amp link should be down after a write failure")
	}
	if !r.events.has("amp-write-failed") {
		t.Error("amp-write-failed event missing")
	}
	t.Logf("✅ Batch aborted: %v", err)
}

func TestSendWithoutLink(t *testing.T) {
	r := newRig(t, testConfig())
	err := r.b.SendToAmp(context.Background(), [][]byte{{0x01}}, true)
	if !errors.Is(err, ErrWrite) {
		t.Fatalf("expected write failure, got %v", err)
	}
}

func TestConcurrentBatchesDoNotInterleave(t *testing.T) {
	cfg := testConfig()
	cfg.Pacing = time.Millisecond
	r := newRig(t, cfg)
	ctx := context.Background()
	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}

	var wg sync.WaitGroup
	for _, fill := range []byte{'A', 'B', 'C'} {
		wg.Add(1)
		go func(fill byte) {
			defer wg.Done()
			msg := bytes.Repeat([]byte{fill}, 3*173)
			if err := r.b.SendToAmp(ctx, [][]byte{msg}, false); err != nil {
				t.Errorf("batch %c failed: %v", fill, err)
			}
		}(fill)
	}
	wg.Wait()

	writes := r.amp.Writes()
	if len(writes) != 9 {
		t.Fatalf("expected 9 frames, got %d", len(writes))
	}
	for i := 0; i < len(writes); i += 3 {
		first := writes[i][0]
		for j := i; j < i+3; j++ {
			if writes[j][0] != first {
				t.Fatalf("frame %d belongs to another batch (%c vs %c)", j, writes[j][0], first)
			}
		}
	}
}

func TestTeardownReleasesClient(t *testing.T) {
	r := newRig(t, testConfig())
	ctx := context.Background()
	if err := r.b.ConnectAmp(ctx, r.ampIdentity()); err != nil {
		t.Fatalf("ConnectAmp failed: %v", err)
	}
	r.b.Shutdown()
	if r.dev.ClientCount() != 0 {
		t.Errorf("expected no clients after shutdown, got %d", r.dev.ClientCount())
	}
	if r.b.Central().Client() != nil {
		t.Error("client still referenced after shutdown")
	}
}
