// Package stepper drives the Arduino that strokes a brush across the
// aperture to paint a fresh bilayer.
//
// The firmware reads single-letter commands terminated by a newline:
//
//	r	reform, one stroke across the aperture and back
//	z	rotate continuously
//	x	advance one step
//	c	stop rotating
//
// It never replies.
package stepper

import (
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
	"golang.org/x/time/rate"

	"github.com/bilakit/bilayer/actuate"
	"github.com/bilakit/bilayer/comm"
)

const (
	// DefaultBaud is the firmware's fixed line rate
	DefaultBaud = 9600

	// ArduinoVID is the USB vendor ID of genuine Arduino boards
	ArduinoVID = "2341"

	// MegaProduct is the USB product string of the controller board
	MegaProduct = "Arduino Mega 2560"
)

// megaPIDs are the product IDs the Mega 2560 has shipped with
var megaPIDs = []string{"0010", "0042", "0242"}

var (
	// ErrNoController is returned by Detect when no board is attached
	ErrNoController = errors.New("no Arduino Mega 2560 found on any serial port")

	// ErrCoolingDown is returned when a reform is requested before the
	// cooldown since the previous one has elapsed
	ErrCoolingDown = errors.New("reform suppressed, cooldown has not elapsed")
)

// Actuator accepts commands from the acquisition loop
type Actuator interface {
	Send(actuate.Command) error
}

// IsMega reports whether a serial port belongs to the controller board
func IsMega(p *enumerator.PortDetails) bool {
	if p == nil || !p.IsUSB {
		return false
	}
	if strings.Contains(p.Product, MegaProduct) {
		return true
	}
	if !strings.EqualFold(p.VID, ArduinoVID) {
		return false
	}
	for _, pid := range megaPIDs {
		if strings.EqualFold(p.PID, pid) {
			return true
		}
	}
	return false
}

// Detect returns the name of the first serial port the controller is on
func Detect() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", errors.Wrap(err, "listing serial ports")
	}
	for _, p := range ports {
		if IsMega(p) {
			return p.Name, nil
		}
	}
	return "", ErrNoController
}

// Controller talks to the board.  It is safe for concurrent use.
type Controller struct {
	rd      *comm.RemoteDevice
	limiter *rate.Limiter

	mu   sync.Mutex
	sent map[actuate.Command]int
}

// New wraps an already opened device.  A cooldown above zero allows at most
// one reform per cooldown.
func New(rd *comm.RemoteDevice, cooldown time.Duration) *Controller {
	c := &Controller{rd: rd, sent: make(map[actuate.Command]int)}
	if cooldown > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cooldown), 1)
	}
	return c
}

// Open connects to the board at addr, detecting the port if addr is empty
// or "auto".  addr may also be a host:port serial bridge.
func Open(addr string, baud int, cooldown time.Duration) (*Controller, error) {
	if addr == "" || strings.EqualFold(addr, "auto") {
		var err error
		addr, err = Detect()
		if err != nil {
			return nil, err
		}
		log.Println("stepper controller detected on", addr)
	}
	if baud == 0 {
		baud = DefaultBaud
	}
	var rd *comm.RemoteDevice
	if comm.IsTCP(addr) {
		rd = comm.NewRemoteDevice(addr, nil)
	} else {
		rd = comm.NewRemoteDevice(addr, comm.SerialConf(addr, baud, time.Second))
	}
	if err := rd.Open(); err != nil {
		return nil, err
	}
	return New(rd, cooldown), nil
}

// Send transmits cmd.  None is a no-op.
func (c *Controller) Send(cmd actuate.Command) error {
	if cmd == actuate.None {
		return nil
	}
	if cmd == actuate.Reform && c.limiter != nil && !c.limiter.Allow() {
		return ErrCoolingDown
	}
	if err := c.rd.Send([]byte(cmd.Wire())); err != nil {
		return errors.Wrapf(err, "sending %s", cmd)
	}
	c.mu.Lock()
	c.sent[cmd]++
	c.mu.Unlock()
	return nil
}

// Sent returns how many times cmd has been transmitted
func (c *Controller) Sent(cmd actuate.Command) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[cmd]
}

// Close releases the port
func (c *Controller) Close() error {
	return c.rd.Close()
}

// Logger is an Actuator for rigs without a controller.  It logs each
// command instead of sending it.
type Logger struct{}

// Send logs cmd
func (Logger) Send(cmd actuate.Command) error {
	if cmd != actuate.None {
		log.Printf("no stepper controller, %s not sent\n", cmd)
	}
	return nil
}
