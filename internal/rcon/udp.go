package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/ernie/warden/internal/domain"
)

const (
	packetHeader  = "\xff\xff\xff\xff"
	rconPrefix    = packetHeader + "rcon "
	printPrefix   = packetHeader + "print\n"
	maxResponse   = 65535
	defaultWait   = 3 * time.Second
	packetGap     = 250 * time.Millisecond
	loginCommand  = "status"
	successMarker = "map:"
)

// Responses the server sends instead of command output when credentials are wrong
var rejectMarkers = []string{
	"Bad rconpassword",
	"Invalid password",
	"No rconpassword set",
}

// UDPDialer opens Quake 3 style connectionless RCON transports
type UDPDialer struct {
	// PacketGap is how long to wait for continuation packets of a long response
	PacketGap time.Duration
}

// Dial connects a UDP socket to the target's RCON port
func (d UDPDialer) Dial(ctx context.Context, target domain.ServerTarget) (Transport, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", target.Address())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", target.Address(), err)
	}

	gap := d.PacketGap
	if gap == 0 {
		gap = packetGap
	}
	return &udpTransport{
		conn:     conn,
		password: target.RconPassword,
		gap:      gap,
		buf:      make([]byte, maxResponse),
	}, nil
}

type udpTransport struct {
	conn     net.Conn
	password string
	gap      time.Duration
	buf      []byte
}

// Login sends a status command and checks for the success marker
func (t *udpTransport) Login(ctx context.Context) error {
	resp, err := t.Exchange(ctx, loginCommand)
	if err != nil {
		return err
	}
	if isRejected(resp) || !strings.Contains(resp, successMarker) {
		return domain.Wrap(domain.CodeAuthenticationFailed, "rcon authentication failed", errors.New(firstLine(resp)))
	}
	return nil
}

// Exchange sends an RCON command and reads the (possibly multi-packet) response
func (t *udpTransport) Exchange(ctx context.Context, command string) (string, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultWait)
	}

	// Format: \xff\xff\xff\xffrcon <password> <command>
	request := fmt.Sprintf("%s%s %s", rconPrefix, t.password, command)
	t.conn.SetWriteDeadline(deadline)
	if _, err := t.conn.Write([]byte(request)); err != nil {
		return "", fmt.Errorf("sending rcon command: %w", err)
	}

	// The first packet may take up to the caller's deadline; continuation
	// packets must follow within the packet gap.
	var response strings.Builder
	received := false
	t.conn.SetReadDeadline(deadline)
	for {
		n, err := t.conn.Read(t.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && received {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			if errors.As(err, &netErr) && netErr.Timeout() {
				return "", fmt.Errorf("reading response: %w", context.DeadlineExceeded)
			}
			return "", fmt.Errorf("reading response: %w", err)
		}

		received = true
		data := string(t.buf[:n])
		if strings.HasPrefix(data, printPrefix) {
			response.WriteString(strings.TrimPrefix(data, printPrefix))
		} else if strings.HasPrefix(data, packetHeader) {
			// Out-of-band packet with another verb, skip the header line
			if i := strings.IndexByte(data, '\n'); i >= 0 {
				response.WriteString(data[i+1:])
			}
		}

		next := time.Now().Add(t.gap)
		if next.After(deadline) {
			next = deadline
		}
		t.conn.SetReadDeadline(next)
	}

	return response.String(), nil
}

func (t *udpTransport) Close() error {
	return t.conn.Close()
}

func isRejected(resp string) bool {
	for _, marker := range rejectMarkers {
		if strings.Contains(resp, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "empty response"
	}
	return s
}
