package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ayanrajpoot10/nxc-go/pkg/queuescanner"
	"github.com/ayanrajpoot10/nxc-go/pkg/workspace"
)

// bannerWait is how long a probe waits for a service to speak first.
const bannerWait = 500 * time.Millisecond

// prober checks TCP reachability of one protocol port.
type prober struct {
	protocol string
	port     int
	timeout  time.Duration
	store    *workspace.Store // nil when no workspace database is configured
	log      *zap.Logger
}

func (inv *invocation) timeout() time.Duration {
	return time.Duration(max(inv.flags.timeout, 1)) * time.Second
}

// scan attempts a TCP connection to host. Unreachable hosts are not reported.
func (p *prober) scan(c *queuescanner.Ctx, host string) {
	ctx, cancel := context.WithTimeout(c.Context(), p.timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(p.port)))
	if err != nil {
		p.log.Debug("unreachable", zap.String("host", host), zap.Error(err))
		return
	}
	defer conn.Close()

	// record the dialed address, not the name given on the command line
	remoteAddr := conn.RemoteAddr()
	ip, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		ip = remoteAddr.String()
	}

	banner := ""
	if err := conn.SetReadDeadline(time.Now().Add(bannerWait)); err == nil {
		if line, err := bufio.NewReader(conn).ReadString('\n'); err == nil || line != "" {
			banner = strings.TrimSpace(sanitize(line))
		}
	}

	hostname := ""
	if net.ParseIP(host) == nil {
		hostname = host
	}
	if p.store != nil {
		if err := p.store.AddHost(c.Context(), workspace.Host{IP: ip, Hostname: hostname, Port: p.port, Banner: banner}); err != nil {
			p.log.Warn("failed to record host", zap.String("host", host), zap.Error(err))
		}
	}

	formatted := fmt.Sprintf("%-6s %-16s %-5d %-20s [+] open", strings.ToUpper(p.protocol), ip, p.port, host)
	if banner != "" {
		formatted += " (" + banner + ")"
	}
	c.ScanSuccess(formatted)
	c.Log(formatted)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}
