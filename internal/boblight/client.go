package boblight

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hueboblightd/internal/color"
	"github.com/dokzlo13/hueboblightd/internal/light"
)

// ErrUnexpectedReply is returned when the server answers with something
// other than the reply to the command just sent.
var ErrUnexpectedReply = errors.New("unexpected reply")

// LightInfo is one entry of a "get lights" reply
type LightInfo struct {
	ID   string
	Scan light.Scan
}

// Client speaks the boblight protocol to a server. It is not safe for
// concurrent use.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	timeout time.Duration
}

// Dial connects to a boblight server. timeout bounds the dial and every
// later read or write; zero means no deadline.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, timeout), nil
}

// NewClient wraps an established connection
func NewClient(conn net.Conn, timeout time.Duration) *Client {
	return &Client{conn: conn, r: bufio.NewReader(conn), timeout: timeout}
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) deadline() time.Time {
	if c.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(c.timeout)
}

func (c *Client) send(format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	log.Debug().Str("tx", line).Msg("Send")

	c.conn.SetWriteDeadline(c.deadline())
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

func (c *Client) readLine() ([]string, error) {
	c.conn.SetReadDeadline(c.deadline())
	line, err := c.r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	log.Debug().Str("rx", line).Msg("Received")
	return strings.Fields(line), nil
}

// readInt reads a "<keyword> <n>" reply
func (c *Client) readInt(keyword string) (int, error) {
	fields, err := c.readLine()
	if err != nil {
		return 0, err
	}
	if len(fields) != 2 || fields[0] != keyword {
		return 0, fmt.Errorf("%w to %s: %q", ErrUnexpectedReply, keyword, strings.Join(fields, " "))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w to %s: %v", ErrUnexpectedReply, keyword, err)
	}
	return n, nil
}

// Hello opens the session
func (c *Client) Hello() error {
	if err := c.send("hello"); err != nil {
		return err
	}
	fields, err := c.readLine()
	if err != nil {
		return err
	}
	if len(fields) != 1 || fields[0] != "hello" {
		return fmt.Errorf("%w to hello: %q", ErrUnexpectedReply, strings.Join(fields, " "))
	}
	return nil
}

// Ping returns the number of lights the server reports as in use by this
// client
func (c *Client) Ping() (int, error) {
	if err := c.send("ping"); err != nil {
		return 0, err
	}
	return c.readInt("ping")
}

// Version returns the server's protocol version
func (c *Client) Version() (int, error) {
	if err := c.send("get version"); err != nil {
		return 0, err
	}
	return c.readInt("version")
}

// Lights returns the lights the server drives, in its order
func (c *Client) Lights() ([]LightInfo, error) {
	if err := c.send("get lights"); err != nil {
		return nil, err
	}
	n, err := c.readInt("lights")
	if err != nil {
		return nil, err
	}

	lights := make([]LightInfo, 0, n)
	for i := 0; i < n; i++ {
		fields, err := c.readLine()
		if err != nil {
			return nil, err
		}
		info, err := parseLightLine(fields)
		if err != nil {
			return nil, err
		}
		lights = append(lights, info)
	}
	return lights, nil
}

// parseLightLine parses "light <id> scan <top> <bottom> <left> <right>"
func parseLightLine(fields []string) (LightInfo, error) {
	if len(fields) != 7 || fields[0] != "light" || fields[2] != "scan" {
		return LightInfo{}, fmt.Errorf("%w in lights: %q", ErrUnexpectedReply, strings.Join(fields, " "))
	}

	var scan [4]float64
	for i, v := range fields[3:] {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return LightInfo{}, fmt.Errorf("%w in lights: %v", ErrUnexpectedReply, err)
		}
		scan[i] = f
	}
	return LightInfo{
		ID:   fields[1],
		Scan: light.Scan{Top: scan[0], Bottom: scan[1], Left: scan[2], Right: scan[3]},
	}, nil
}

// SetPriority sets the client priority, 0..255
func (c *Client) SetPriority(priority int) error {
	return c.send("set priority %d", priority)
}

// SetSpeed sends a light's speed. The server acknowledges it without effect.
func (c *Client) SetSpeed(id string, speed float64) error {
	return c.send("set light %s speed %s", id, formatScan(speed))
}

// SetRGB sets a light's color
func (c *Client) SetRGB(id string, rgb color.RGB) error {
	return c.send("set light %s rgb %f %f %f", id, rgb.R, rgb.G, rgb.B)
}

// Sync marks the end of a frame
func (c *Client) Sync() error {
	return c.send("sync")
}
