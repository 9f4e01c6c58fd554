package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"must-hop/internal/metrics"
	"must-hop/internal/packet"
	"must-hop/internal/radio"
)

// mockRadio implements radio.Radio for tests.
type mockRadio struct {
	addr    uint32
	tx      [][]byte
	rx      [][]byte
	sendErr error
}

func (d *mockRadio) OwnAddress() uint32 { return d.addr }

func (d *mockRadio) Send(frame []byte) error {
	if d.sendErr != nil {
		return d.sendErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	d.tx = append(d.tx, cp)
	return nil
}

func (d *mockRadio) TryReceive() ([]byte, bool) {
	if len(d.rx) == 0 {
		return nil, false
	}
	frame := d.rx[0]
	d.rx = d.rx[1:]
	return frame, true
}

func dataFrame(t *testing.T, dest, origin, seq uint32, hops uint8, payload []byte) []byte {
	t.Helper()
	frame, err := packet.Encode(packet.Header{
		Dest: dest, Origin: origin, Seq: seq,
		Kind: packet.KindData, HopLimit: hops,
	}, payload)
	require.NoError(t, err)
	return frame
}

func TestSuppressionSecondFrameHasNoSideEffect(t *testing.T) {
	rad := &mockRadio{addr: 5}
	coll := metrics.NewCollector()
	rt := New(rad, Config{}, coll, nil)
	now := time.Now()

	frame := dataFrame(t, 9, 1, 1, 3, []byte("x"))
	rt.HandleFrame(frame, now)
	rt.HandleFrame(frame, now)

	assert.Equal(t, 1, rt.PendingLen(), "only the first frame may be queued for relay")
	snap := coll.Snapshot()
	assert.Equal(t, uint64(1), snap.Relayed)
	assert.Equal(t, uint64(1), snap.Suppressed)

	_, ok := rt.PollDelivery()
	assert.False(t, ok, "frame for another node must not be delivered")
}

func TestRelayDecrementsHopLimitAndEchoesKey(t *testing.T) {
	rad := &mockRadio{addr: 5}
	rt := New(rad, Config{}, nil, nil)
	now := time.Now()

	rt.HandleFrame(dataFrame(t, 9, 1, 42, 3, []byte("hop")), now)
	rt.Tick(now)

	require.Len(t, rad.tx, 1)
	fwd, err := packet.Decode(rad.tx[0])
	require.NoError(t, err)
	assert.Equal(t, uint8(2), fwd.HopLimit)
	assert.Equal(t, uint32(1), fwd.Origin, "relay must echo the originator")
	assert.Equal(t, uint32(42), fwd.Seq, "relay must echo the sequence number")
	assert.Equal(t, uint32(9), fwd.Dest)
	assert.Equal(t, []byte("hop"), fwd.Payload)
}

func TestExhaustedHopBudgetIsDropped(t *testing.T) {
	rad := &mockRadio{addr: 5}
	coll := metrics.NewCollector()
	rt := New(rad, Config{}, coll, nil)
	now := time.Now()

	rt.HandleFrame(dataFrame(t, 9, 1, 1, 0, nil), now)
	rt.Tick(now)

	assert.Empty(t, rad.tx)
	assert.Equal(t, 0, rt.PendingLen())
	assert.Equal(t, uint64(1), coll.Snapshot().Expired)
}

func TestLocalDeliveryExactlyOnce(t *testing.T) {
	rad := &mockRadio{addr: 5}
	rt := New(rad, Config{}, nil, nil)
	now := time.Now()

	frame := dataFrame(t, 5, 1, 1, 3, []byte("temp=21.5"))
	rt.HandleFrame(frame, now)
	rt.HandleFrame(frame, now) // duplicate

	d, ok := rt.PollDelivery()
	require.True(t, ok)
	assert.Equal(t, uint32(1), d.Origin)
	assert.Equal(t, []byte("temp=21.5"), d.Payload)

	_, ok = rt.PollDelivery()
	assert.False(t, ok, "a packet instance is delivered exactly once")

	assert.Equal(t, 0, rt.PendingLen(), "packet addressed to us is never relayed")
}

func TestMalformedFrameIsCountedAndDropped(t *testing.T) {
	rad := &mockRadio{addr: 5}
	coll := metrics.NewCollector()
	rt := New(rad, Config{}, coll, nil)

	rt.HandleFrame([]byte{0x01, 0x02, 0x03}, time.Now())

	assert.Equal(t, uint64(1), coll.Snapshot().DecodeErrors)
	assert.Equal(t, 0, rt.PendingLen())
}

func TestGatewayAcksOnceAndNeverRelays(t *testing.T) {
	rad := &mockRadio{addr: packet.GatewayAddr}
	coll := metrics.NewCollector()
	rt := New(rad, Config{Gateway: true}, coll, nil)
	now := time.Now()

	frame := dataFrame(t, packet.GatewayAddr, 1, 7, 2, []byte("reading"))
	rt.HandleFrame(frame, now)
	rt.HandleFrame(frame, now) // duplicate must not produce a second ack
	rt.Tick(now)

	d, ok := rt.PollDelivery()
	require.True(t, ok)
	assert.Equal(t, uint32(1), d.Origin)
	_, ok = rt.PollDelivery()
	assert.False(t, ok)

	require.Len(t, rad.tx, 1, "exactly one ack on air")
	ack, err := packet.Decode(rad.tx[0])
	require.NoError(t, err)
	assert.Equal(t, packet.KindAck, ack.Kind)
	assert.Equal(t, uint32(1), ack.Dest, "ack is addressed to the originator")

	acked, err := packet.DecodeAckBody(ack.Payload)
	require.NoError(t, err)
	assert.Equal(t, packet.Key{Origin: 1, Seq: 7}, acked)

	snap := coll.Snapshot()
	assert.Equal(t, uint64(1), snap.AcksSent)
	assert.Equal(t, uint64(0), snap.Relayed, "gateway terminates relay")
}

func TestGatewayDoesNotAckOverflowedDelivery(t *testing.T) {
	rad := &mockRadio{addr: packet.GatewayAddr}
	coll := metrics.NewCollector()
	rt := New(rad, Config{Gateway: true, InboundCapacity: 1}, coll, nil)
	now := time.Now()

	rt.HandleFrame(dataFrame(t, packet.GatewayAddr, 1, 1, 2, []byte("kept")), now)
	// inbound queue is full, this one is dropped and must not be acked
	rt.HandleFrame(dataFrame(t, packet.GatewayAddr, 1, 2, 2, []byte("lost")), now)
	rt.Tick(now)

	snap := coll.Snapshot()
	assert.Equal(t, uint64(1), snap.Delivered)
	assert.Equal(t, uint64(1), snap.InboundDropped)
	assert.Equal(t, uint64(1), snap.AcksSent, "only the enqueued payload earns an ack")
	require.Len(t, rad.tx, 1)

	ack, err := packet.Decode(rad.tx[0])
	require.NoError(t, err)
	acked, err := packet.DecodeAckBody(ack.Payload)
	require.NoError(t, err)
	assert.Equal(t, packet.Key{Origin: 1, Seq: 1}, acked)
}

func TestAckClearsPendingRegardlessOfBudget(t *testing.T) {
	rad := &mockRadio{addr: 1}
	coll := metrics.NewCollector()
	rt := New(rad, Config{}, coll, nil)
	now := time.Now()

	require.NoError(t, rt.EnqueueLocal(packet.GatewayAddr, []byte("r"), packet.FlagAckRequested, now))
	rt.Tick(now)
	require.Len(t, rad.tx, 1)
	assert.Equal(t, 1, rt.PendingLen(), "ack-awaiting entry survives a successful send")

	sent, err := packet.Decode(rad.tx[0])
	require.NoError(t, err)

	ackFrame, err := packet.Encode(packet.Header{
		Dest: 1, Origin: packet.GatewayAddr, Seq: 1,
		Kind: packet.KindAck, HopLimit: 3,
	}, packet.EncodeAckBody(sent.Key()))
	require.NoError(t, err)

	rt.HandleFrame(ackFrame, now)
	assert.Equal(t, 0, rt.PendingLen())
	assert.Equal(t, uint64(1), coll.Snapshot().AcksReceived)
}

func TestRetryExhaustionTerminates(t *testing.T) {
	rad := &mockRadio{addr: 1}
	coll := metrics.NewCollector()
	rt := New(rad, Config{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 4 * time.Second}, coll, nil)
	now := time.Now()

	require.NoError(t, rt.EnqueueLocal(packet.GatewayAddr, []byte("r"), packet.FlagAckRequested, now))

	// no ack ever arrives; drive ticks far past every backoff
	for i := 0; i < 20; i++ {
		rt.Tick(now.Add(time.Duration(i) * 10 * time.Second))
	}

	assert.Equal(t, 0, rt.PendingLen(), "exhausted entry must stop consuming memory")
	assert.Len(t, rad.tx, 4, "initial attempt plus MaxRetries retransmissions")
	assert.Equal(t, uint64(1), coll.Snapshot().RetryExhausted)

	// and no further transmissions on later ticks
	rt.Tick(now.Add(time.Hour))
	assert.Len(t, rad.tx, 4)
}

func TestBackoffIsMonotonicallyNonDecreasing(t *testing.T) {
	rad := &mockRadio{addr: 1}
	rt := New(rad, Config{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 8 * time.Second}, nil, nil)
	start := time.Now()

	require.NoError(t, rt.EnqueueLocal(packet.GatewayAddr, []byte("r"), packet.FlagAckRequested, start))

	var attemptTimes []time.Duration
	lastTx := 0
	for step := 0; step <= 60*4; step++ {
		at := time.Duration(step) * 250 * time.Millisecond
		rt.Tick(start.Add(at))
		if len(rad.tx) > lastTx {
			attemptTimes = append(attemptTimes, at)
			lastTx = len(rad.tx)
		}
	}

	require.GreaterOrEqual(t, len(attemptTimes), 3)
	var prev time.Duration
	for i := 1; i < len(attemptTimes); i++ {
		gap := attemptTimes[i] - attemptTimes[i-1]
		assert.GreaterOrEqual(t, gap, prev, "retry gaps must never shrink")
		prev = gap
	}
}

func TestEnqueueLocalQueueFull(t *testing.T) {
	rad := &mockRadio{addr: 1}
	rt := New(rad, Config{PendingCapacity: 2}, nil, nil)
	now := time.Now()

	require.NoError(t, rt.EnqueueLocal(2, []byte("a"), packet.FlagAckRequested, now))
	require.NoError(t, rt.EnqueueLocal(2, []byte("b"), packet.FlagAckRequested, now))
	err := rt.EnqueueLocal(2, []byte("c"), packet.FlagAckRequested, now)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestEnqueueLocalPayloadTooLarge(t *testing.T) {
	rad := &mockRadio{addr: 1}
	rt := New(rad, Config{}, nil, nil)

	err := rt.EnqueueLocal(2, make([]byte, packet.MaxPayloadSize+1), 0, time.Now())
	assert.ErrorIs(t, err, packet.ErrPayloadTooLarge)
}

func TestRelayEvictsOldestUnderPressure(t *testing.T) {
	rad := &mockRadio{addr: 5}
	coll := metrics.NewCollector()
	rt := New(rad, Config{PendingCapacity: 2}, coll, nil)
	now := time.Now()

	rt.HandleFrame(dataFrame(t, 9, 1, 1, 3, nil), now)
	rt.HandleFrame(dataFrame(t, 9, 1, 2, 3, nil), now.Add(time.Millisecond))
	rt.HandleFrame(dataFrame(t, 9, 1, 3, 3, nil), now.Add(2*time.Millisecond))

	assert.Equal(t, 2, rt.PendingLen())
	assert.Equal(t, uint64(1), coll.Snapshot().PendingEvicted)
}

func TestSendFailureIsRetriedLater(t *testing.T) {
	rad := &mockRadio{addr: 5, sendErr: radio.ErrChannelBusy}
	coll := metrics.NewCollector()
	rt := New(rad, Config{InitialBackoff: time.Second}, coll, nil)
	now := time.Now()

	rt.HandleFrame(dataFrame(t, 9, 1, 1, 3, nil), now)
	rt.Tick(now)
	assert.Equal(t, 1, rt.PendingLen(), "failed send stays pending")
	assert.Equal(t, uint64(1), coll.Snapshot().SendFailures)

	rad.sendErr = nil
	rt.Tick(now.Add(2 * time.Second))
	assert.Equal(t, 0, rt.PendingLen())
	assert.Len(t, rad.tx, 1)
}

func TestBroadcastIsDeliveredAndRelayed(t *testing.T) {
	rad := &mockRadio{addr: 5}
	rt := New(rad, Config{}, nil, nil)
	now := time.Now()

	rt.HandleFrame(dataFrame(t, packet.BroadcastAddr, 1, 1, 2, []byte("announce")), now)

	_, ok := rt.PollDelivery()
	assert.True(t, ok, "broadcast payload is delivered locally")
	assert.Equal(t, 1, rt.PendingLen(), "broadcast is also relayed while budget remains")
}
