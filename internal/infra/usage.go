package infra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tastamat/fandomon/internal/domain"
)

// usageTimeLayout is the local-time format dumpsys prints for usage timestamps.
const usageTimeLayout = "2006-01-02 15:04:05"

// foregroundEventTypes are the usage event types that mean "came to foreground".
// Older releases report MOVE_TO_FOREGROUND, newer ones ACTIVITY_RESUMED.
var foregroundEventTypes = map[string]bool{
	"ACTIVITY_RESUMED":   true,
	"MOVE_TO_FOREGROUND": true,
}

// DumpsysUsageSource implements domain.UsageSource by parsing
// `dumpsys usagestats`.
type DumpsysUsageSource struct {
	runner   CommandRunner
	location *time.Location
}

// NewDumpsysUsageSource creates a usage source that reads timestamps in the
// device's local zone.
func NewDumpsysUsageSource(runner CommandRunner) *DumpsysUsageSource {
	return &DumpsysUsageSource{runner: runner, location: time.Local}
}

// ForegroundTransitions returns foreground events in [from, to] in the order dumpsys lists them.
func (u *DumpsysUsageSource) ForegroundTransitions(ctx context.Context, from, to time.Time) ([]domain.ForegroundObservation, error) {
	out, err := u.dump(ctx)
	if err != nil {
		return nil, err
	}
	var obs []domain.ForegroundObservation
	for _, line := range splitLines(out) {
		fields := parseUsageFields(line)
		if !foregroundEventTypes[fields["type"]] || fields["package"] == "" {
			continue
		}
		at, err := time.ParseInLocation(usageTimeLayout, fields["time"], u.location)
		if err != nil || at.Before(from) || at.After(to) {
			continue
		}
		obs = append(obs, domain.ForegroundObservation{Package: fields["package"], At: at})
	}
	return obs, nil
}

// RecentUsage returns the last-used time per package for packages used in [from, to].
func (u *DumpsysUsageSource) RecentUsage(ctx context.Context, from, to time.Time) ([]domain.UsageRecord, error) {
	out, err := u.dump(ctx)
	if err != nil {
		return nil, err
	}
	latest := make(map[string]time.Time)
	for _, line := range splitLines(out) {
		fields := parseUsageFields(line)
		pkg, used := fields["package"], fields["lastTimeUsed"]
		if pkg == "" || used == "" {
			continue
		}
		at, err := time.ParseInLocation(usageTimeLayout, used, u.location)
		if err != nil || at.Before(from) || at.After(to) {
			continue
		}
		if at.After(latest[pkg]) {
			latest[pkg] = at
		}
	}
	records := make([]domain.UsageRecord, 0, len(latest))
	for pkg, at := range latest {
		records = append(records, domain.UsageRecord{Package: pkg, LastUsed: at})
	}
	return records, nil
}

func (u *DumpsysUsageSource) dump(ctx context.Context) (string, error) {
	out, err := u.runner.Output(ctx, "dumpsys", "usagestats")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("usagestats: %w", domain.ErrCapabilityUnavailable)
		}
		return "", fmt.Errorf("usagestats: %w", shellError(out, err))
	}
	s := string(out)
	if strings.Contains(s, "Permission Denial") || strings.Contains(s, "Can't find service") {
		return "", fmt.Errorf("usagestats: %w", domain.ErrCapabilityUnavailable)
	}
	return s, nil
}

func splitLines(s string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(s))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

// parseUsageFields splits a dumpsys line of key=value and key="quoted value" pairs.
func parseUsageFields(line string) map[string]string {
	fields := make(map[string]string)
	s := strings.TrimSpace(line)
	for s != "" {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			break
		}
		key := s[:eq]
		if sp := strings.LastIndexByte(key, ' '); sp >= 0 {
			key = key[sp+1:]
		}
		rest := s[eq+1:]
		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value, rest = rest[1:], ""
			} else {
				value, rest = rest[1:end+1], rest[end+2:]
			}
		} else if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			value, rest = rest[:sp], rest[sp:]
		} else {
			value, rest = rest, ""
		}
		fields[key] = value
		s = strings.TrimSpace(rest)
	}
	return fields
}

var _ domain.UsageSource = (*DumpsysUsageSource)(nil)
