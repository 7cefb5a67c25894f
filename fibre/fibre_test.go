package fibre

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/go-foundations/fibre/task"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	r, err := FibreInit(1, 1)
	require.NoError(t, err)
	t.Cleanup(func() { r.Scope.Disk.Stop() })
	return r
}

// TestPipeWriteThenRead exercises the full non-blocking-attempt/register/
// suspend/retry wrapper loop: the reader task suspends on an empty pipe
// until the writer task's Write wakes it via the real epoll poller.
func TestPipeWriteThenRead(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Scope.Main.Stop()

	rfd, wfd, err := r.Pipe(0)
	require.NoError(t, err)
	defer r.Close(rfd)
	defer r.Close(wfd)

	readDone := make(chan []byte, 1)
	r.Spawn("reader", func(cf *task.Task) {
		buf := make([]byte, 16)
		n, err := r.Read(cf, rfd, buf)
		require.NoError(t, err)
		readDone <- buf[:n]
	})

	time.Sleep(20 * time.Millisecond) // let the reader suspend on EAGAIN first

	r.Spawn("writer", func(cf *task.Task) {
		_, err := r.Write(cf, wfd, []byte("hello"))
		assert.NoError(t, err)
	})

	select {
	case got := <-readDone:
		assert.Equal(t, "hello", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("reader never woke up after writer wrote")
	}
}

// TestSocketAcceptConnectRoundTrip exercises Socket/Bind/Listen/Accept
// and Connect against a loopback TCP listener, covering the Accept4
// EAGAIN-retry path and Connect's non-blocking attempt.
func TestSocketAcceptConnectRoundTrip(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Scope.Main.Stop()

	lfd, err := r.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer r.Close(lfd)

	bindAddr := &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
	require.NoError(t, r.Bind(lfd, bindAddr))
	require.NoError(t, r.Listen(lfd, 1))

	boundSA, err := unix.Getsockname(lfd)
	require.NoError(t, err)
	boundInet4, ok := boundSA.(*unix.SockaddrInet4)
	require.True(t, ok)
	addr := &unix.SockaddrInet4{Port: boundInet4.Port, Addr: [4]byte{127, 0, 0, 1}}

	accepted := make(chan int, 1)
	r.Spawn("acceptor", func(cf *task.Task) {
		connFD, err := r.Accept(cf, lfd)
		assert.NoError(t, err)
		accepted <- connFD
	})

	time.Sleep(20 * time.Millisecond)

	clientDone := make(chan error, 1)
	r.Spawn("client", func(cf *task.Task) {
		cfd, err := r.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
		if err != nil {
			clientDone <- err
			return
		}
		clientDone <- r.Connect(cf, cfd, addr)
	})

	select {
	case err := <-clientDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("connect never completed")
	}

	select {
	case connFD := <-accepted:
		assert.Greater(t, connFD, 0)
		r.Close(connFD)
	case <-time.After(2 * time.Second):
		t.Fatal("accept never completed")
	}
}

// TestSleepSuspendsForApproximatelyDuration exercises Sleep against the
// runtime's real scope timer queue, the same queue AcquireTimeout and
// friends register against.
func TestSleepSuspendsForApproximatelyDuration(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Scope.Main.Stop()

	const d = 50 * time.Millisecond
	start := time.Now()
	woke := make(chan time.Duration, 1)
	r.Spawn("sleeper", func(cf *task.Task) {
		r.Sleep(cf, d)
		woke <- time.Since(start)
	})

	select {
	case elapsed := <-woke:
		assert.GreaterOrEqual(t, elapsed, d)
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep never woke the task")
	}
}

// TestOpenRoutesThroughDirectIOMigration exercises the disk-cluster
// migration path end to end: Open flags its FD useUring, so Write/Read
// on it go through directIO's migrate-to-Scope.Disk-and-back instead of
// the readiness-polling retry loop.
func TestOpenRoutesThroughDirectIOMigration(t *testing.T) {
	r := newTestRuntime(t)
	defer r.Scope.Main.Stop()

	f, err := os.CreateTemp("", "fibre-directio-*")
	require.NoError(t, err)
	path := f.Name()
	require.NoError(t, f.Close())
	defer os.Remove(path)

	fd, err := r.Open(path, unix.O_RDWR, 0o600)
	require.NoError(t, err)
	defer r.Close(fd)

	done := make(chan error, 1)
	r.Spawn("disk-roundtrip", func(cf *task.Task) {
		if _, werr := r.Write(cf, fd, []byte("migrated")); werr != nil {
			done <- werr
			return
		}
		if _, serr := unix.Seek(fd, 0, 0); serr != nil {
			done <- serr
			return
		}
		buf := make([]byte, 16)
		n, rerr := r.Read(cf, fd, buf)
		if rerr != nil {
			done <- rerr
			return
		}
		if got := string(buf[:n]); got != "migrated" {
			done <- fmt.Errorf("round trip returned %q", got)
			return
		}
		done <- nil
	})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disk I/O via directIO migration never completed")
	}
}
