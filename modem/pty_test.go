//go:build linux

package modem_test

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aymanbagabas/go-pty"
	"i4.energy/across/modemdiag/modem"
)

// fakeModem answers on the master side of a pseudo terminal.
func fakeModem(p pty.Pty, replies map[string]string) {
	r := bufio.NewReader(p)
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		reply, ok := replies[cmd]
		if !ok {
			reply = "ERROR\r\n"
		}
		if _, err := p.Write([]byte("\r\n" + reply)); err != nil {
			return
		}
	}
}

func TestSerialDialerOverPty(t *testing.T) {
	p, err := pty.New()
	if err != nil {
		t.Skipf("pseudo terminal not available: %v", err)
	}
	defer p.Close()

	go fakeModem(p, map[string]string{
		"AT":      "OK\r\n",
		"AT+CGMI": "Quectel\r\n\r\nOK\r\n",
	})

	ctx := context.Background()
	dialer := modem.SerialDialer{PortName: p.Name(), BaudRate: 115200}

	res, err := modem.Probe(ctx, dialer, 2*time.Second)
	if err != nil {
		var connErr *modem.ConnectionError
		if errors.As(err, &connErr) {
			t.Skipf("serial settings not supported on pty: %v", err)
		}
		t.Fatalf("probe failed: %v", err)
	}
	if !res.Success() {
		t.Fatalf("probe not acknowledged: %v", res.Lines)
	}

	config, err := modem.NewConfigBuilder().
		WithSerialPort(p.Name(), 115200).
		WithATTimeout(2 * time.Second).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	s, err := modem.Open(ctx, config)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer s.Close()

	// The endpoint is held while the session is open.
	if _, err := dialer.Dial(ctx); !errors.Is(err, modem.ErrResourceBusy) {
		t.Errorf("expected ErrResourceBusy for second open, got: %v", err)
	}

	got := s.Execute(ctx, "AT+CGMI", 0)
	if !got.Success() || len(got.Data()) != 1 || got.Data()[0] != "Quectel" {
		t.Errorf("unexpected AT+CGMI result: %v %q", got.Status, got.Lines)
	}
}
