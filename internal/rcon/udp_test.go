package rcon

import (
	"context"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/warden/internal/domain"
)

// startFakeServer answers rcon packets the way a CoD4 dedicated server does
func startFakeServer(t *testing.T, password string, replies map[string][]string) domain.ServerTarget {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			msg := strings.TrimPrefix(string(buf[:n]), rconPrefix)
			pw, cmd, _ := strings.Cut(msg, " ")
			if pw != password {
				pc.WriteTo([]byte(printPrefix+"Bad rconpassword.\n"), addr)
				continue
			}
			for _, part := range replies[cmd] {
				pc.WriteTo([]byte(printPrefix+part), addr)
			}
		}
	}()

	host, port, _ := net.SplitHostPort(pc.LocalAddr().String())
	p, _ := strconv.Atoi(port)
	return domain.ServerTarget{ID: 1, Name: "fake", Host: host, RconPort: p, RconPassword: password, IsActive: true}
}

func TestUDPTransport_LoginAndExchange(t *testing.T) {
	target := startFakeServer(t, "secret", map[string][]string{
		"status":  {"map: mp_crash\nnum score ping guid\n"},
		"cmdlist": {"part one\n", "part two\n"},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := UDPDialer{PacketGap: 50 * time.Millisecond}.Dial(ctx, target)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Login(ctx))

	resp, err := tr.Exchange(ctx, "cmdlist")
	require.NoError(t, err)
	assert.Equal(t, "part one\npart two\n", resp)
}

func TestUDPTransport_BadPassword(t *testing.T) {
	target := startFakeServer(t, "secret", nil)
	target.RconPassword = "wrong"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tr, err := UDPDialer{}.Dial(ctx, target)
	require.NoError(t, err)
	defer tr.Close()

	err = tr.Login(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthenticationFailed)
}

func TestUDPTransport_NoReplyTimesOut(t *testing.T) {
	target := startFakeServer(t, "secret", map[string][]string{})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	tr, err := UDPDialer{}.Dial(context.Background(), target)
	require.NoError(t, err)
	defer tr.Close()

	_, err = tr.Exchange(ctx, "silence")
	require.Error(t, err)
	assert.True(t, isTimeout(err))
}
