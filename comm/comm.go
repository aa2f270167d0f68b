/*Package comm provides the low-level links to the rig's serial and TCP
peripherals.

Both the stepper controller and a streaming digitizer talk newline-terminated
ASCII.  A RemoteDevice hides whether the far end is a USB serial port or a
TCP bridge:

	rd := comm.NewRemoteDevice("/dev/ttyACM0", comm.SerialConf("/dev/ttyACM0", 9600, time.Second))
	if err := rd.Open(); err != nil {
		return err
	}
	defer rd.Close()
	err := rd.Send([]byte("r"))
*/
package comm

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Terminator ends every line in both directions
const Terminator = byte('\n')

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// SerialConf returns the 8N1 configuration every device on the rig uses
func SerialConf(addr string, baud int, readTimeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	}
}

// IsTCP is true for host:port addresses.  Device paths and Windows COM
// names are serial.
func IsTCP(addr string) bool {
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(strings.ToUpper(addr), "COM") {
		return false
	}
	_, _, err := net.SplitHostPort(addr)
	return err == nil
}

/*RemoteDevice is a line-oriented link to one peripheral.

When Serial is nil the address is dialed over TCP.  Lines are read through a
buffered reader that lives as long as the connection, so a Recv never drops
data a previous Recv already pulled off the wire.  Send is safe for
concurrent use.
*/
type RemoteDevice struct {
	Addr   string
	Serial *serial.Config

	// Timeout bounds the TCP dial, zero means three seconds
	Timeout time.Duration

	Conn io.ReadWriteCloser

	rd *bufio.Reader
	mu sync.Mutex
}

// NewRemoteDevice creates a new RemoteDevice instance.  conf may be nil for
// a TCP remote.
func NewRemoteDevice(addr string, conf *serial.Config) *RemoteDevice {
	return &RemoteDevice{Addr: addr, Serial: conf}
}

// Adopt wraps a connection opened elsewhere, such as a port from another
// serial driver.  The device is ready for Send and Recv without Open.
func Adopt(addr string, conn io.ReadWriteCloser) *RemoteDevice {
	return &RemoteDevice{Addr: addr, Conn: conn, rd: bufio.NewReader(conn)}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	// USB serial adapters take a moment to enumerate after a replug, and an
	// Arduino resets when its port is opened, so retry briefly
	var last error
	op := func() error {
		err := rd.open()
		if err == nil {
			return nil
		}
		last = err
		if strings.Contains(strings.ToLower(err.Error()), "refused") {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		if last == nil {
			last = err
		}
		return errors.Wrapf(last, "opening %s", rd.Addr)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.Serial != nil {
		conn, err = serial.OpenPort(rd.Serial)
	} else {
		timeout := rd.Timeout
		if timeout == 0 {
			timeout = 3 * time.Second
		}
		conn, err = TCPSetup(rd.Addr, timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rd = bufio.NewReader(conn)
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
		rd.rd = nil
	}
	return err
}

// Send writes b and the terminator to the remote
func (rd *RemoteDevice) Send(b []byte) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, b...)
	buf = append(buf, Terminator)
	_, err := rd.Conn.Write(buf)
	return errors.Wrapf(err, "writing to %s", rd.Addr)
}

// Recv reads one line from the remote with the terminator and any carriage
// return stripped.  A final line cut off by EOF is returned together with
// ErrTerminatorNotFound; after that Recv returns io.EOF.
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	buf, err := rd.rd.ReadBytes(Terminator)
	if err != nil {
		if err == io.EOF && len(buf) > 0 {
			return bytes.TrimRight(buf, "\r"), ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimRight(buf[:len(buf)-1], "\r"), nil
}

// TCPSetup opens a new TCP connection with a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
