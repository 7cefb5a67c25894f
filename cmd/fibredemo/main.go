// Command fibredemo spins up the fibre runtime and runs a small TCP echo
// server plus a handful of concurrent client fibers against it, to
// exercise the scheduler, ready queues, and I/O wrappers end to end.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/go-foundations/fibre/fibre"
	"github.com/go-foundations/fibre/task"
)

func main() {
	rt, err := fibre.FibreInit(0, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fibredemo: init failed: %v\n", err)
		os.Exit(1)
	}
	defer rt.Scope.Main.Stop()
	defer rt.PrintStats(os.Stdout)

	fmt.Printf("=== fibre demo: %d workers ===\n", rt.Scope.Main.NumWorkers())

	listenFD, addr, err := listen(rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fibredemo: listen failed: %v\n", err)
		os.Exit(1)
	}
	defer rt.Close(listenFD)

	const clientCount = 5
	var wg sync.WaitGroup
	wg.Add(clientCount + 1)

	done := make(chan struct{})
	go serveEcho(rt, listenFD, clientCount, &wg, done)

	start := time.Now()
	for i := 0; i < clientCount; i++ {
		i := i
		rt.Spawn(fmt.Sprintf("client-%d", i), func(cf *task.Task) {
			defer wg.Done()
			msg := fmt.Sprintf("ping-%d", i)
			reply, err := echoRoundTrip(rt, cf, addr, msg)
			if err != nil {
				fmt.Printf("client %d: error: %v\n", i, err)
				return
			}
			fmt.Printf("client %d: sent %q, got %q\n", i, msg, reply)
		})
	}

	wg.Wait()
	close(done)
	fmt.Printf("=== done in %v ===\n", time.Since(start))
}

func listen(rt *fibre.Runtime) (int, *unix.SockaddrInet4, error) {
	fd, err := rt.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, nil, err
	}
	if err := rt.Bind(fd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}); err != nil {
		return -1, nil, err
	}
	if err := rt.Listen(fd, 16); err != nil {
		return -1, nil, err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return -1, nil, err
	}
	inet4 := sa.(*unix.SockaddrInet4)
	return fd, &unix.SockaddrInet4{Port: inet4.Port, Addr: [4]byte{127, 0, 0, 1}}, nil
}

// serveEcho accepts connectionCount connections and bounces back whatever
// it reads on each, one fiber per connection.
func serveEcho(rt *fibre.Runtime, listenFD int, connectionCount int, wg *sync.WaitGroup, done <-chan struct{}) {
	defer wg.Done()
	for i := 0; i < connectionCount; i++ {
		rt.Spawn("acceptor", func(cf *task.Task) {
			connFD, err := rt.Accept(cf, listenFD)
			if err != nil {
				return
			}
			rt.Spawn("echo-conn", func(cf *task.Task) {
				defer rt.Close(connFD)
				buf := make([]byte, 256)
				n, err := rt.Read(cf, connFD, buf)
				if err != nil {
					return
				}
				rt.Write(cf, connFD, buf[:n])
			})
		})
	}
}

func echoRoundTrip(rt *fibre.Runtime, cf *task.Task, addr *unix.SockaddrInet4, msg string) (string, error) {
	fd, err := rt.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return "", err
	}
	defer rt.Close(fd)

	if err := rt.Connect(cf, fd, addr); err != nil {
		return "", err
	}
	if _, err := rt.Write(cf, fd, []byte(msg)); err != nil {
		return "", err
	}
	buf := make([]byte, 256)
	n, err := rt.Read(cf, fd, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}
