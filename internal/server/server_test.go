package server

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"goredis/internal/clock"
	"goredis/internal/config"
)

// startTestServer boots a server on an ephemeral port and returns its
// address plus a cleanup func. It runs Run in a goroutine purely as
// the test harness driver; the server itself remains single-threaded
// internally.
func startTestServer(t *testing.T, cfg *config.Config) (addr string, stop func()) {
	t.Helper()
	return startTestServerWithClock(t, cfg, clock.Real{})
}

// startTestServerWithClock is startTestServer with an injectable clock,
// for tests that need to drive expiry/WAIT/blocking-XREAD deadlines
// deterministically instead of racing real timers (spec.md §9).
func startTestServerWithClock(t *testing.T, cfg *config.Config, clk clock.Clock) (addr string, stop func()) {
	t.Helper()
	cfg.Port = freePort(t)
	cfg.Host = "127.0.0.1"

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	srv, err := New(cfg, clk, log)
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	stopCh := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = srv.Run(stopCh)
		close(done)
	}()

	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), func() {
		close(stopCh)
		<-done
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestPingEcho(t *testing.T) {
	addr, stop := startTestServer(t, config.DefaultConfig())
	defer stop()

	conn := mustDial(t, addr)
	defer conn.Close()

	mustWrite(t, conn, "*1\r\n$4\r\nPING\r\n")
	require.Equal(t, "+PONG\r\n", mustReadN(t, conn, 7))

	mustWrite(t, conn, "*2\r\n$4\r\nECHO\r\n$5\r\nhello\r\n")
	require.Equal(t, "$5\r\nhello\r\n", mustReadN(t, conn, 11))
}

func TestSetGetWithExpiry(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	addr, stop := startTestServerWithClock(t, config.DefaultConfig(), clk)
	defer stop()

	conn := mustDial(t, addr)
	defer conn.Close()

	mustWrite(t, conn, "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	require.Equal(t, "+OK\r\n", mustReadN(t, conn, 5))

	mustWrite(t, conn, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n")
	require.Equal(t, "$3\r\nbar\r\n", mustReadN(t, conn, 9))

	mustWrite(t, conn, "*5\r\n$3\r\nSET\r\n$4\r\ntemp\r\n$1\r\nx\r\n$2\r\nPX\r\n$2\r\n20\r\n")
	require.Equal(t, "+OK\r\n", mustReadN(t, conn, 5))

	// Still within the window: the fake clock hasn't moved.
	mustWrite(t, conn, "*2\r\n$3\r\nGET\r\n$4\r\ntemp\r\n")
	require.Equal(t, "$1\r\nx\r\n", mustReadN(t, conn, 7))

	// Advance the logical clock past the PX deadline deterministically,
	// instead of sleeping against a real timer.
	clk.Advance(30 * time.Millisecond)
	mustWrite(t, conn, "*2\r\n$3\r\nGET\r\n$4\r\ntemp\r\n")
	require.Equal(t, "$-1\r\n", mustReadN(t, conn, 5))
}

func TestXReadBlockTimesOutUsesFakeClock(t *testing.T) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	addr, stop := startTestServerWithClock(t, config.DefaultConfig(), clk)
	defer stop()

	conn := mustDial(t, addr)
	defer conn.Close()

	mustWrite(t, conn, "*6\r\n$5\r\nXREAD\r\n$5\r\nBLOCK\r\n$3\r\n100\r\n$7\r\nSTREAMS\r\n$6\r\nstream\r\n$3\r\n0-0\r\n")

	// Commands on one connection are handled in order, so the PING reply
	// proves the XREAD has been read and its blocker registered before
	// the clock moves.
	mustWrite(t, conn, "*1\r\n$4\r\nPING\r\n")
	require.Equal(t, "+PONG\r\n", mustReadN(t, conn, 7))

	// The blocker is registered with a deadline of fake-now + 100ms;
	// advancing the fake clock past that lets the server's periodic
	// blocker-resolution tick fire the timeout reply deterministically,
	// without a real sleep racing the deadline.
	clk.Advance(150 * time.Millisecond)
	require.Equal(t, "*-1\r\n", mustReadN(t, conn, 5))
}

func TestXAddAndXRange(t *testing.T) {
	addr, stop := startTestServer(t, config.DefaultConfig())
	defer stop()

	conn := mustDial(t, addr)
	defer conn.Close()

	mustWrite(t, conn, "*5\r\n$4\r\nXADD\r\n$6\r\nstream\r\n$3\r\n0-1\r\n$3\r\nfoo\r\n$3\r\nbar\r\n")
	require.Equal(t, "+0-1\r\n", mustReadN(t, conn, 6))

	mustWrite(t, conn, "*4\r\n$6\r\nXRANGE\r\n$6\r\nstream\r\n$3\r\n0-1\r\n$3\r\n0-1\r\n")
	out := mustReadN(t, conn, 39)
	require.Equal(t, "*1\r\n*2\r\n$3\r\n0-1\r\n*2\r\n$3\r\nfoo\r\n$3\r\nbar\r\n", out)
}

func mustDial(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	return conn
}

func mustWrite(t *testing.T, conn net.Conn, s string) {
	t.Helper()
	_, err := conn.Write([]byte(s))
	require.NoError(t, err)
}

func mustReadN(t *testing.T, conn net.Conn, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_, err := readFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
