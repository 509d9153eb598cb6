package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/order-arbiter/internal/domain"
)

// recorder keeps what it is given.
type recorder struct {
	name   string
	fills  []domain.Fill
	err    error
	closed bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Publish(_ context.Context, fills []domain.Fill) error {
	if r.err != nil {
		return r.err
	}
	r.fills = append(r.fills, fills...)
	return nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func sampleFills() []domain.Fill {
	return []domain.Fill{
		{Symbol: "AAPL", Price: 101, Size: 20, RestingID: 1, IncomingID: 2, SequenceID: 1},
		{Symbol: "AAPL", Price: 102, Size: 5, RestingID: 3, IncomingID: 2, SequenceID: 2},
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("sink down")}
	m := Multi{bad, ok}

	err := m.Publish(context.Background(), sampleFills())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Len(t, ok.fills, 2)

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, bad.closed)
}

func TestRun_DrainsUntilClosed(t *testing.T) {
	rec := &recorder{name: "rec"}
	in := make(chan *domain.Result, 3)
	in <- &domain.Result{Symbol: "AAPL", Fills: sampleFills()}
	in <- &domain.Result{Symbol: "AAPL"}
	in <- &domain.Result{Symbol: "MSFT", Fills: []domain.Fill{{Symbol: "MSFT", Price: 1, Size: 1}}}
	close(in)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), in, rec)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Len(t, rec.fills, 3)
}

func TestRun_StopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		Run(ctx, make(chan *domain.Result), &recorder{name: "rec"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "arbiter.fills.AAPL", Subject("AAPL"))
	assert.Equal(t, "fills:AAPL", StreamKey("AAPL"))
}

func TestNATSPublisher_MsgIDStable(t *testing.T) {
	pub := NewNATSPublisherFromConn(nil)
	fills := sampleFills()

	first := pub.MsgID(fills[0])
	assert.Equal(t, first, pub.MsgID(fills[0]), "same fill must map to the same id")
	assert.NotEqual(t, first, pub.MsgID(fills[1]))

	// A later run reuses sequence ids but not message ids.
	other := NewNATSPublisherFromConn(nil)
	assert.NotEqual(t, first, other.MsgID(fills[0]))
	require.NoError(t, pub.Close())
}

func TestNATSPublisher_Publish(t *testing.T) {
	nc, err := nats.Connect(nats.DefaultURL, nats.NoReconnect())
	if err != nil {
		// Skip NATS-dependent tests if no server available
		t.Skip("NATS server not available")
	}
	sub, err := nc.SubscribeSync(Subject("AAPL"))
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	pub, err := NewNATSPublisher(nats.DefaultURL)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), sampleFills()))
	require.NoError(t, pub.Close())

	// Each header carries the id derived from its fill.
	fills := sampleFills()
	for range 2 {
		msg, err := sub.NextMsg(time.Second)
		require.NoError(t, err)
		var f domain.Fill
		require.NoError(t, json.Unmarshal(msg.Data, &f))
		assert.Equal(t, "AAPL", f.Symbol)
		assert.Equal(t, pub.MsgID(f), msg.Header.Get(nats.MsgIdHdr))
	}
	assert.NotEqual(t, pub.MsgID(fills[0]), pub.MsgID(fills[1]))
	nc.Close()
}

func TestRedisPublisher_Publish(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skip("Redis server not available")
	}
	key := StreamKey("TESTSYM")
	client.Del(ctx, key)

	pub := NewRedisPublisher(client)
	defer pub.Close()

	fills := sampleFills()
	for i := range fills {
		fills[i].Symbol = "TESTSYM"
	}
	require.NoError(t, pub.Publish(ctx, fills))

	entries, err := client.XRange(ctx, key, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "101", entries[0].Values["price"])
	assert.Equal(t, "5", entries[1].Values["size"])
	client.Del(ctx, key)
}
