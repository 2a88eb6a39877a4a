package infra

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tastamat/fandomon/internal/domain"
)

const dialTimeout = 3 * time.Second

// InternetProbe checks reachability by opening a TCP connection.
type InternetProbe struct {
	addr   string
	dialer *net.Dialer
}

// NewInternetProbe creates a probe dialing addr (host:port).
func NewInternetProbe(addr string) *InternetProbe {
	return &InternetProbe{addr: addr, dialer: &net.Dialer{Timeout: dialTimeout}}
}

// Online reports whether addr accepted a connection.
func (p *InternetProbe) Online(ctx context.Context) bool {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Name identifies the probe.
func (p *InternetProbe) Name() string { return "internet" }

// Probe adapts Online to domain.StateProbe.
func (p *InternetProbe) Probe(ctx context.Context) (bool, error) {
	return p.Online(ctx), nil
}

// Kinds returns the connectivity transition events.
func (p *InternetProbe) Kinds() (on, off domain.EventKind) {
	return domain.EventInternetConnected, domain.EventInternetDisconnected
}

// PowerProbe reports whether any external power supply is online.
type PowerProbe struct {
	root string
}

// NewPowerProbe reads supplies under /sys/class/power_supply.
func NewPowerProbe() *PowerProbe {
	return &PowerProbe{root: "/sys/class/power_supply"}
}

// Name identifies the probe.
func (p *PowerProbe) Name() string { return "power" }

// Probe returns true when a non-battery supply reports online.
func (p *PowerProbe) Probe(context.Context) (bool, error) {
	supplies, err := filepath.Glob(filepath.Join(p.root, "*"))
	if err != nil {
		return false, err
	}
	found := false
	for _, dir := range supplies {
		kind := readSysfs(filepath.Join(dir, "type"))
		if kind == "" || strings.EqualFold(kind, "Battery") {
			continue
		}
		online := readSysfs(filepath.Join(dir, "online"))
		if online == "" {
			continue
		}
		found = true
		if online == "1" {
			return true, nil
		}
	}
	if !found {
		return false, fmt.Errorf("power: %w", domain.ErrCapabilityUnavailable)
	}
	return false, nil
}

// Kinds returns the power transition events.
func (p *PowerProbe) Kinds() (on, off domain.EventKind) {
	return domain.EventPowerRestored, domain.EventPowerOutage
}

func readSysfs(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// ScreenProbe reads the display wakefulness from the power service.
type ScreenProbe struct {
	runner CommandRunner
}

// NewScreenProbe creates a screen probe.
func NewScreenProbe(runner CommandRunner) *ScreenProbe {
	return &ScreenProbe{runner: runner}
}

// Name identifies the probe.
func (p *ScreenProbe) Name() string { return "screen" }

// Probe returns true when the device is awake.
func (p *ScreenProbe) Probe(ctx context.Context) (bool, error) {
	out, err := p.runner.Output(ctx, "dumpsys", "power")
	if err != nil {
		return false, fmt.Errorf("screen: %w", domain.ErrCapabilityUnavailable)
	}
	for _, line := range splitLines(string(out)) {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, "mWakefulness="); ok {
			return v == "Awake", nil
		}
	}
	return false, fmt.Errorf("screen: wakefulness not reported: %w", domain.ErrCapabilityUnavailable)
}

// Kinds returns the screen transition events.
func (p *ScreenProbe) Kinds() (on, off domain.EventKind) {
	return domain.EventScreenOn, domain.EventScreenOff
}

var (
	_ domain.ConnectivityProbe = (*InternetProbe)(nil)
	_ domain.StateProbe        = (*InternetProbe)(nil)
	_ domain.StateProbe        = (*PowerProbe)(nil)
	_ domain.StateProbe        = (*ScreenProbe)(nil)
)
