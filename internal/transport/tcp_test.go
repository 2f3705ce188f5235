package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen starts a one-connection TCP server and returns its selector and the accepted conn
func listen(t *testing.T) (Selector, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	return Selector{Kind: KindTCP, Address: ln.Addr().String()}, accepted
}

func openTCP(t *testing.T, sel Selector) Transport {
	t.Helper()
	tr, err := Open(context.Background(), sel, Settings{ReadTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTCPTransportReadsChunks(t *testing.T) {
	sel, accepted := listen(t)
	tr := openTCP(t, sel)
	peer := <-accepted
	defer peer.Close()

	_, err := peer.Write([]byte("1,2\n"))
	require.NoError(t, err)

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 4 && time.Now().Before(deadline) {
		chunk, err := tr.ReadChunk(context.Background())
		if err == ErrEmpty {
			continue
		}
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	assert.Equal(t, "1,2\n", string(got))
	assert.Equal(t, KindTCP, tr.Info().Kind)
}

func TestTCPTransportEmptyWindow(t *testing.T) {
	sel, accepted := listen(t)
	tr := openTCP(t, sel)
	peer := <-accepted
	defer peer.Close()

	_, err := tr.ReadChunk(context.Background())
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestTCPTransportPeerClose(t *testing.T) {
	sel, accepted := listen(t)
	tr := openTCP(t, sel)
	peer := <-accepted
	require.NoError(t, peer.Close())

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err = tr.ReadChunk(context.Background()); err != ErrEmpty {
			break
		}
	}
	assert.True(t, IsIoError(err), "got %v", err)
}

func TestTCPTransportClose(t *testing.T) {
	sel, accepted := listen(t)
	tr := openTCP(t, sel)
	peer := <-accepted
	defer peer.Close()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	_, err := tr.ReadChunk(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTCPTransportConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Open(context.Background(), Selector{Kind: KindTCP, Address: addr}, Settings{ConnectTimeout: time.Second})
	assert.True(t, IsConnectionError(err))
}
