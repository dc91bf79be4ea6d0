package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"dhtnode-go/bus"
	"dhtnode-go/types"

	"github.com/google/shlex"
)

const consoleHelp = `commands:
  read <sensor>                 trigger a reading
  last <sensor>                 re-publish the last good reading
  poll <sensor> <ms>            poll the sensor every <ms> milliseconds
  stop <sensor>                 stop polling
  led <name> on|off|toggle      drive an LED
  help                          this text
  quit                          exit
`

var errQuit = errors.New("quit")

// Console turns command lines into HAL control requests.
type Console struct {
	conn    *bus.Connection
	log     *slog.Logger
	out     io.Writer
	timeout time.Duration
}

func NewConsole(conn *bus.Connection, log *slog.Logger, out io.Writer) *Console {
	return &Console{conn: conn, log: log, out: out, timeout: 2 * time.Second}
}

// Run reads commands from in until EOF, quit or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := c.Exec(ctx, sc.Text())
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintln(c.out, "error:", err)
		}
	}
	return sc.Err()
}

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	args, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(args) == 0 {
		return nil
	}

	switch cmd := args[0]; cmd {
	case "help", "?":
		fmt.Fprint(c.out, consoleHelp)
		return nil
	case "quit", "exit":
		return errQuit
	case "read", "last", "stop":
		if len(args) != 2 {
			return fmt.Errorf("usage: %s <sensor>", cmd)
		}
		verb, payload := cmd, any(nil)
		if cmd == "stop" {
			verb, payload = "poll_stop", types.PollStop{Verb: "read"}
		}
		return c.control(ctx, sensorTopic(args[1], verb), payload)
	case "poll":
		if len(args) != 3 {
			return errors.New("usage: poll <sensor> <ms>")
		}
		ms, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil || ms == 0 {
			return fmt.Errorf("invalid interval %q", args[2])
		}
		return c.control(ctx, sensorTopic(args[1], "poll_start"),
			types.PollStart{Verb: "read", IntervalMs: uint32(ms)})
	case "led":
		if len(args) != 3 {
			return errors.New("usage: led <name> on|off|toggle")
		}
		t := bus.T("hal", "cap", "io", string(types.KindLED), args[1], "control")
		switch args[2] {
		case "on", "off":
			return c.control(ctx, t.Append("set"), types.LEDSet{Level: args[2] == "on"})
		case "toggle":
			return c.control(ctx, t.Append("toggle"), nil)
		default:
			return fmt.Errorf("unknown led action %q", args[2])
		}
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// sensorTopic addresses the temperature capability; the device reads both.
func sensorTopic(name, verb string) bus.Topic {
	return bus.T("hal", "cap", "env", string(types.KindTemperature), name, "control", verb)
}

func (c *Console) control(ctx context.Context, topic bus.Topic, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reply, err := c.conn.RequestWait(ctx, c.conn.NewMessage(topic, payload, false))
	if err != nil {
		return fmt.Errorf("no reply: %w", err)
	}
	switch r := reply.Payload.(type) {
	case types.OKReply:
		c.log.Debug("control ok", "topic", topic)
		fmt.Fprintln(c.out, "ok")
		return nil
	case types.ErrorReply:
		return errors.New(r.Error)
	default:
		return fmt.Errorf("unexpected reply %T", reply.Payload)
	}
}
