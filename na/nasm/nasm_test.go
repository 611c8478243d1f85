package nasm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/hg/na"
)

func drain(t *testing.T, ctx na.Context, timeout time.Duration, max int) int {
	t.Helper()
	n, err := ctx.Trigger(timeout, max)
	require.True(t, err == nil || err == na.ErrTimeout)
	return n
}

func TestAddrIsSelf(t *testing.T) {
	a := NewClass(false)
	b := NewClass(false)
	require.True(t, a.AddrIsSelf(a.Addr()))
	require.False(t, a.AddrIsSelf(b.Addr()))
}

func TestUnexpectedRecvMatchesSend(t *testing.T) {
	client := NewClass(false)
	server := NewClass(true)

	recvBuf := make([]byte, server.MaxExpectedSize())
	var gotInfo na.RecvInfo
	var recvErr error
	done := make(chan struct{}, 1)
	_, err := server.Context().PostRecvUnexpected(recvBuf, func(_ na.OpID, info na.RecvInfo, err error) {
		gotInfo, recvErr = info, err
		done <- struct{}{}
	})
	require.NoError(t, err)

	_, err = client.Context().PostSendUnexpected([]byte("hello"), server.Addr(), 7, func(na.OpID, error) {})
	require.NoError(t, err)

	require.NoError(t, server.Context().Progress(time.Second))
	require.Equal(t, 1, drain(t, server.Context(), 0, 16))

	<-done
	require.NoError(t, recvErr)
	require.Equal(t, 5, gotInfo.Size)
	require.Equal(t, uint32(7), gotInfo.Tag)
	require.Equal(t, client.Addr().String(), gotInfo.Source.String())
	require.Equal(t, "hello", string(recvBuf[:gotInfo.Size]))
}

func TestExpectedRecvMatchesByTagAndSender(t *testing.T) {
	origin := NewClass(false)
	target := NewClass(true)
	other := NewClass(false)

	buf := make([]byte, origin.MaxExpectedSize())
	matched := make(chan na.RecvInfo, 1)
	_, err := origin.Context().PostRecvExpected(buf, target.Addr(), 42, func(_ na.OpID, info na.RecvInfo, err error) {
		require.NoError(t, err)
		matched <- info
	})
	require.NoError(t, err)

	// A send from an uninvolved peer, same tag, must not match: it has no
	// posted expected slot of its own and there is no unexpected slot either,
	// so it is silently dropped.
	_, err = other.Context().PostSendExpected([]byte("wrong"), origin.Addr(), 42, func(na.OpID, error) {})
	require.NoError(t, err)
	require.NoError(t, origin.Context().Progress(50*time.Millisecond))
	require.Equal(t, 0, drain(t, origin.Context(), 0, 16))

	_, err = target.Context().PostSendExpected([]byte("right"), origin.Addr(), 42, func(na.OpID, error) {})
	require.NoError(t, err)
	require.NoError(t, origin.Context().Progress(time.Second))
	require.Equal(t, 1, drain(t, origin.Context(), 0, 16))

	info := <-matched
	require.Equal(t, "right", string(buf[:info.Size]))
	require.Equal(t, target.Addr().String(), info.Source.String())
}

func TestUnexpectedRecvIsFIFO(t *testing.T) {
	client := NewClass(false)
	server := NewClass(true)

	var order []string
	for i := 0; i < 3; i++ {
		buf := make([]byte, server.MaxExpectedSize())
		_, err := server.Context().PostRecvUnexpected(buf, func(_ na.OpID, info na.RecvInfo, _ error) {
			order = append(order, string(buf[:info.Size]))
		})
		require.NoError(t, err)
	}

	for _, payload := range []string{"first", "second", "third"} {
		_, err := client.Context().PostSendUnexpected([]byte(payload), server.Addr(), 0, func(na.OpID, error) {})
		require.NoError(t, err)
		require.NoError(t, server.Context().Progress(time.Second))
	}
	require.Equal(t, 3, drain(t, server.Context(), 0, 16))
	require.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSendWithNoPostedRecvIsDroppedNotBlocked(t *testing.T) {
	client := NewClass(false)
	server := NewClass(true) // listening, but nothing posted yet

	_, err := client.Context().PostSendUnexpected([]byte("nobody home"), server.Addr(), 0, func(na.OpID, error) {})
	require.NoError(t, err)

	err = server.Context().Progress(50 * time.Millisecond)
	// The message is delivered into the mailbox and matched against nothing,
	// so Progress still reports it drained one message rather than timing out.
	require.NoError(t, err)
	require.Equal(t, 0, drain(t, server.Context(), 0, 16))
}

func TestCancelSuppressesLateCompletion(t *testing.T) {
	client := NewClass(false)
	server := NewClass(true)

	buf := make([]byte, server.MaxExpectedSize())
	var recvErr error
	op, err := server.Context().PostRecvUnexpected(buf, func(_ na.OpID, _ na.RecvInfo, err error) {
		recvErr = err
	})
	require.NoError(t, err)
	require.NoError(t, server.Context().Cancel(op))

	_, err = client.Context().PostSendUnexpected([]byte("too late"), server.Addr(), 0, func(na.OpID, error) {})
	require.NoError(t, err)
	require.NoError(t, server.Context().Progress(time.Second))
	require.Equal(t, 1, drain(t, server.Context(), 0, 16))
	require.Error(t, recvErr)
}

func TestMailboxFullReturnsErrorWithoutBlocking(t *testing.T) {
	client := NewClass(false)
	server := NewClass(true)

	var lastErr error
	for i := 0; i < 300; i++ {
		_, err := client.Context().PostSendUnexpected([]byte("x"), server.Addr(), 0, func(na.OpID, error) {})
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
}

func TestForeignAddressTypeRejected(t *testing.T) {
	client := NewClass(false)

	_, err := client.Context().PostSendUnexpected([]byte("x"), fakeAddr{}, 0, func(na.OpID, error) {})
	require.Error(t, err)
}

type fakeAddr struct{}

func (fakeAddr) String() string { return "not-a-nasm-addr" }
