package natsbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prtl/prtl/internal/boundaries/out"
	"github.com/prtl/prtl/internal/domain"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()

	s, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func connect(t *testing.T, s *server.Server) *Bus {
	t.Helper()

	bus, err := Connect(Config{URL: s.ClientURL(), Name: t.Name(), RequestTimeout: time.Second}, zerowrap.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func TestBus_RequestReply(t *testing.T) {
	s := runServer(t)
	gateway := connect(t, s)
	worker := connect(t, s)
	ctx := context.Background()

	_, err := worker.Subscribe("prtl.proxy.echo.rpc", func(msg *out.Message) {
		_ = worker.Publish(ctx, msg.Reply, append([]byte("echo:"), msg.Data...))
	})
	require.NoError(t, err)
	require.NoError(t, worker.Flush(ctx))

	reply, err := gateway.Request(ctx, "prtl.proxy.echo.rpc", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hi", string(reply))
}

func TestBus_Request_NoResponders(t *testing.T) {
	s := runServer(t)
	bus := connect(t, s)

	_, err := bus.Request(context.Background(), "prtl.proxy.nobody.rpc", nil)
	assert.ErrorIs(t, err, domain.ErrNoReply)
}

func TestBus_WildcardSubscription(t *testing.T) {
	s := runServer(t)
	gateway := connect(t, s)
	worker := connect(t, s)
	ctx := context.Background()

	var got atomic.Int32
	received := make(chan string, 2)
	_, err := gateway.Subscribe("prtl.proxy.*.register", func(msg *out.Message) {
		got.Add(1)
		received <- msg.Subject
	})
	require.NoError(t, err)
	require.NoError(t, gateway.Flush(ctx))

	require.NoError(t, worker.Publish(ctx, "prtl.proxy.cdnlibs.register", []byte("x")))
	require.NoError(t, worker.Publish(ctx, "prtl.proxy.cdnlibs.rpc", []byte("x")))
	require.NoError(t, worker.Flush(ctx))

	select {
	case subject := <-received:
		assert.Equal(t, "prtl.proxy.cdnlibs.register", subject)
	case <-time.After(2 * time.Second):
		t.Fatal("registration not delivered")
	}
	require.NoError(t, gateway.Flush(ctx))
	assert.Equal(t, int32(1), got.Load())
}

func TestBus_ClosedConnection(t *testing.T) {
	s := runServer(t)
	bus := connect(t, s)

	require.NoError(t, bus.Close())
	assert.True(t, bus.nc.IsClosed())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), "prtl.discovery", nil)
	assert.ErrorIs(t, err, domain.ErrBusClosed)
}

func TestBus_Close_WaitsForInFlightReplies(t *testing.T) {
	s := runServer(t)
	gateway := connect(t, s)
	worker := connect(t, s)
	ctx := context.Background()

	started := make(chan struct{})
	_, err := worker.Subscribe("prtl.proxy.slow.rpc", func(msg *out.Message) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		_ = worker.Publish(ctx, msg.Reply, []byte("done"))
	})
	require.NoError(t, err)
	require.NoError(t, worker.Flush(ctx))

	type result struct {
		reply []byte
		err   error
	}
	replies := make(chan result, 1)
	go func() {
		reply, err := gateway.Request(ctx, "prtl.proxy.slow.rpc", nil)
		replies <- result{reply, err}
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("request not delivered")
	}

	require.NoError(t, worker.Close())
	assert.True(t, worker.nc.IsClosed())

	got := <-replies
	require.NoError(t, got.err)
	assert.Equal(t, "done", string(got.reply))
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(Config{URL: "nats://127.0.0.1:1"}, zerowrap.Default())
	assert.ErrorIs(t, err, domain.ErrTransport)
}
