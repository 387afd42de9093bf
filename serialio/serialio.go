// SPDX-License-Identifier: AGPL-3.0-or-later

// Package serialio implements the grbl.SerialPort collaborator: it opens a
// real serial connection, runs independent read and write loops, and
// retries transient I/O errors with exponential backoff instead of giving
// up (spec.md §6, §7 "transport errors").
package serialio

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.bug.st/serial"
)

// ErrClosed is returned by Write once the port has been closed.
var ErrClosed = errors.New("serialio: port is closed")

// Port adapts go.bug.st/serial into grbl.SerialPort, reading and writing
// on their own goroutines the way the teacher's transport.go does.
type Port struct {
	name string
	baud int
	port serial.Port

	onData func([]byte)
	onErr  func(error)

	writeCh chan []byte
	done    chan struct{}
	closed  atomic.Bool
	closeMu sync.Mutex
}

// Open opens portName at baud and starts the read/write loops. onData is
// called (from the read goroutine) with every chunk read from the wire;
// the caller is responsible for incremental line parsing (spec.md §4.1
// tolerates arbitrary chunk boundaries, so no line-splitting happens
// here). onErr, if non-nil, is called on every transient or terminal I/O
// error.
func Open(portName string, baud int, onData func([]byte), onErr func(error)) (*Port, error) {
	mode := &serial.Mode{BaudRate: baud}
	sp, err := serial.Open(portName, mode)
	if err != nil {
		return nil, err
	}
	slog.Info("opened serial port", "port", portName, "baud", baud)

	p := &Port{
		name:    portName,
		baud:    baud,
		port:    sp,
		onData:  onData,
		onErr:   onErr,
		writeCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go p.readLoop()
	go p.writeLoop()
	return p, nil
}

// IsOpen reports whether the port has not yet been closed.
func (p *Port) IsOpen() bool {
	return !p.closed.Load()
}

// Write enqueues data for the write loop. It never blocks on the serial
// device itself; a closed port returns ErrClosed immediately.
func (p *Port) Write(data []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	buf := append([]byte(nil), data...)
	select {
	case p.writeCh <- buf:
		return nil
	case <-p.done:
		return ErrClosed
	}
}

// Close stops both loops and closes the underlying port.
func (p *Port) Close() error {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)
	return p.port.Close()
}

func (p *Port) readLoop() {
	buf := make([]byte, 4096)
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0 // retry forever; the controller decides when to give up

	for {
		select {
		case <-p.done:
			return
		default:
		}

		n, err := p.port.Read(buf)
		if err != nil {
			p.reportErr(err)
			select {
			case <-time.After(b.NextBackOff()):
			case <-p.done:
				return
			}
			continue
		}
		b.Reset()
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if p.onData != nil {
				p.onData(chunk)
			}
		}
	}
}

func (p *Port) writeLoop() {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 0

	for {
		select {
		case data := <-p.writeCh:
			for {
				_, err := p.port.Write(data)
				if err == nil {
					b.Reset()
					break
				}
				p.reportErr(err)
				select {
				case <-time.After(b.NextBackOff()):
				case <-p.done:
					return
				}
			}
		case <-p.done:
			return
		}
	}
}

func (p *Port) reportErr(err error) {
	slog.Error("serial I/O error", "port", p.name, "error", err)
	if p.onErr != nil {
		p.onErr(err)
	}
}
