package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/metrics"
)

// Command vocabularies. Each maps a wire name to a command kind; lookups
// are case-insensitive. Adding a vocabulary is a data change only.
var (
	// legacyVocabulary is the upper-snake naming of the first backend, which
	// also stamps every command with a timestamp.
	legacyVocabulary = map[string]domain.CommandKind{
		"RESTART_FANDOMAT": domain.CommandRestartTarget,
		"RESTART_FANDOMON": domain.CommandRestartSelf,
		"UPDATE_SETTINGS":  domain.CommandUpdateSettings,
		"CLEAR_EVENTS":     domain.CommandClearEvents,
		"FORCE_SYNC":       domain.CommandForceSync,
		"GET_STATUS":       domain.CommandGetStatus,
	}

	// currentVocabulary is the lowercase naming, which added the monitoring
	// toggles and the send_status and sync_events aliases.
	currentVocabulary = map[string]domain.CommandKind{
		"restart_fandomat": domain.CommandRestartTarget,
		"restart_fandomon": domain.CommandRestartSelf,
		"update_settings":  domain.CommandUpdateSettings,
		"clear_events":     domain.CommandClearEvents,
		"force_sync":       domain.CommandForceSync,
		"sync_events":      domain.CommandForceSync,
		"get_status":       domain.CommandGetStatus,
		"send_status":      domain.CommandGetStatus,
		"start_monitoring": domain.CommandStartMonitoring,
		"stop_monitoring":  domain.CommandStopMonitoring,
	}

	commandLookup = buildCommandLookup(legacyVocabulary, currentVocabulary)
)

func buildCommandLookup(vocabularies ...map[string]domain.CommandKind) map[string]domain.CommandKind {
	lookup := make(map[string]domain.CommandKind)
	for _, vocab := range vocabularies {
		for name, kind := range vocab {
			lookup[strings.ToLower(name)] = kind
		}
	}
	return lookup
}

// NormalizeCommand maps a wire command name to its kind.
func NormalizeCommand(name string) domain.CommandKind {
	if kind, ok := commandLookup[strings.ToLower(strings.TrimSpace(name))]; ok {
		return kind
	}
	return domain.CommandUnknown
}

type commandEnvelope struct {
	Command    string                     `json:"command"`
	Parameters map[string]json.RawMessage `json:"parameters"`
	Timestamp  *int64                     `json:"timestamp"`
}

// ParseCommand decodes a command payload. A missing command name parses as
// CommandUnknown; parameters of any scalar JSON type are stringified.
func ParseCommand(raw []byte, now time.Time) (domain.RemoteCommand, error) {
	var env commandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.RemoteCommand{}, fmt.Errorf("decode command: %w", err)
	}

	params := make(map[string]string, len(env.Parameters))
	for k, v := range env.Parameters {
		s, err := scalarString(v)
		if err != nil {
			return domain.RemoteCommand{}, fmt.Errorf("parameter %q: %w", k, err)
		}
		params[k] = s
	}

	received := now
	if env.Timestamp != nil && *env.Timestamp > 0 {
		received = time.UnixMilli(*env.Timestamp)
	}
	return domain.RemoteCommand{
		Kind:       NormalizeCommand(env.Command),
		Name:       env.Command,
		Parameters: params,
		ReceivedAt: received,
	}, nil
}

func scalarString(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String(), nil
	}
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return strconv.FormatBool(b), nil
	}
	return "", errors.New("not a scalar")
}

// TargetRestarter is the orchestrator entry point used by RESTART_FANDOMAT.
type TargetRestarter interface {
	ForceRestart(ctx context.Context, target string) domain.RecoveryResult
}

// CommandDeps are the collaborators a CommandProcessor drives.
type CommandDeps struct {
	Config    domain.ConfigStore
	Events    domain.EventStore
	Recorder  *EventRecorder
	Restarter TargetRestarter
	Scheduler domain.Scheduler
	Sync      domain.SyncTrigger
	Self      domain.SelfRestarter
	Runner    domain.TaskRunner
}

type commandHandler func(ctx context.Context, cmd domain.RemoteCommand) error

// CommandProcessor parses remote commands on the ingress path and executes
// them on the task runner.
type CommandProcessor struct {
	deps     CommandDeps
	handlers map[domain.CommandKind]commandHandler
	logger   *zap.Logger
	now      func() time.Time
}

// NewCommandProcessor creates a processor.
func NewCommandProcessor(deps CommandDeps, logger *zap.Logger) *CommandProcessor {
	p := &CommandProcessor{deps: deps, logger: logger, now: time.Now}
	p.handlers = map[domain.CommandKind]commandHandler{
		domain.CommandRestartTarget:   p.restartTarget,
		domain.CommandRestartSelf:     p.restartSelf,
		domain.CommandUpdateSettings:  p.updateSettings,
		domain.CommandClearEvents:     p.clearEvents,
		domain.CommandForceSync:       p.forceSync,
		domain.CommandGetStatus:       p.getStatus,
		domain.CommandStartMonitoring: p.startMonitoring,
		domain.CommandStopMonitoring:  p.stopMonitoring,
		domain.CommandUnknown:         p.unknown,
	}
	return p
}

// HandleMessage parses payload and queues the command. It never blocks on
// command execution, so it is safe to call from a transport callback.
func (p *CommandProcessor) HandleMessage(source string, payload []byte) {
	cmd, err := ParseCommand(payload, p.now())
	if err != nil {
		p.logger.Warn("discarding unparseable command",
			zap.String("source", source),
			zap.ByteString("payload", truncate(payload, 256)),
			zap.Error(err))
		return
	}
	p.logger.Info("command received",
		zap.String("source", source),
		zap.String("command", cmd.Name),
		zap.Stringer("kind", cmd.Kind))
	p.deps.Runner.Go("command:"+cmd.Kind.String(), func(ctx context.Context) {
		_ = p.Execute(ctx, cmd)
	})
}

// Execute runs cmd synchronously. Handler errors and panics are converted to
// a COMMAND_<NAME>_FAILED event and returned.
func (p *CommandProcessor) Execute(ctx context.Context, cmd domain.RemoteCommand) (err error) {
	metrics.Commands.WithLabelValues(cmd.Kind.String()).Inc()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.logger.Error("command handler panicked", zap.Stringer("kind", cmd.Kind), zap.Any("panic", r), zap.Stack("stack"))
		}
		if err != nil {
			metrics.CommandFailures.WithLabelValues(cmd.Kind.String()).Inc()
			p.deps.Recorder.Record(ctx, cmd.Kind.FailedEventKind(), err.Error())
		}
	}()

	handler, ok := p.handlers[cmd.Kind]
	if !ok {
		handler = p.unknown
	}
	return handler(ctx, cmd)
}

func (p *CommandProcessor) restartTarget(ctx context.Context, cmd domain.RemoteCommand) error {
	settings, err := p.deps.Config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(),
		fmt.Sprintf("Remote restart of %s requested", settings.TargetPackage))
	res := p.deps.Restarter.ForceRestart(ctx, settings.TargetPackage)
	p.logger.Info("remote restart finished",
		zap.String("target", settings.TargetPackage),
		zap.Bool("confirmed", res.Confirmed),
		zap.String("stage", res.Stage))
	return nil
}

// restartSelf replaces the watchdog process. On success the current process
// exits and Execute never returns.
func (p *CommandProcessor) restartSelf(ctx context.Context, cmd domain.RemoteCommand) error {
	p.deps.Scheduler.CancelAll()
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(), "Restarting watchdog on remote command")

	if err := p.deps.Self.Relaunch(); err != nil {
		p.rescheduleIfActive(ctx)
		return fmt.Errorf("relaunch watchdog: %w", err)
	}
	p.deps.Self.Exit()
	return nil
}

// updateSettings applies each remote key in its own validated update, so a
// rejected value costs only that key. Storage failures fail the command.
func (p *CommandProcessor) updateSettings(ctx context.Context, cmd domain.RemoteCommand) error {
	keys := make([]string, 0, len(cmd.Parameters))
	for k := range cmd.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	before, err := p.deps.Config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	after := before

	var applied, skipped []string
	for _, key := range keys {
		value := cmd.Parameters[key]
		if !domain.IsRemoteSetting(key) {
			p.logger.Warn("ignoring setting not allowed remotely", zap.String("key", key))
			skipped = append(skipped, key)
			continue
		}
		next, err := p.deps.Config.Update(ctx, func(s *domain.Settings) error {
			return s.Apply(key, value)
		})
		switch {
		case errors.Is(err, domain.ErrInvalidSetting), errors.Is(err, domain.ErrUnknownSetting):
			p.logger.Warn("ignoring invalid setting", zap.String("key", key), zap.String("value", value), zap.Error(err))
			skipped = append(skipped, key)
		case err != nil:
			return fmt.Errorf("update %s: %w", key, err)
		default:
			after = next
			applied = append(applied, key+"="+value)
		}
	}

	msg := "Settings updated via remote command"
	if len(applied) > 0 {
		msg += ": " + strings.Join(applied, ", ")
	}
	if len(skipped) > 0 {
		msg += " (ignored: " + strings.Join(skipped, ", ") + ")"
	}
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(), msg)

	intervalsChanged := before.CheckIntervalMinutes != after.CheckIntervalMinutes ||
		before.StatusIntervalMinutes != after.StatusIntervalMinutes
	if intervalsChanged && after.MonitoringActive {
		if err := p.deps.Scheduler.Schedule(ctx, after.CheckInterval(), after.StatusInterval()); err != nil {
			return fmt.Errorf("reschedule: %w", err)
		}
	}
	return nil
}

func (p *CommandProcessor) clearEvents(ctx context.Context, cmd domain.RemoteCommand) error {
	n, err := p.deps.Events.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(), fmt.Sprintf("Cleared %d events from database", n))
	return nil
}

func (p *CommandProcessor) forceSync(ctx context.Context, cmd domain.RemoteCommand) error {
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(), "Event sync requested via remote command")
	p.deps.Sync.RequestSync()
	return nil
}

func (p *CommandProcessor) getStatus(ctx context.Context, cmd domain.RemoteCommand) error {
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(), "Status report requested via remote command")
	p.deps.Sync.RequestStatus()
	return nil
}

func (p *CommandProcessor) startMonitoring(ctx context.Context, cmd domain.RemoteCommand) error {
	settings, err := p.deps.Config.Update(ctx, func(s *domain.Settings) error {
		s.MonitoringActive = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("enable monitoring: %w", err)
	}
	if err := p.deps.Scheduler.Schedule(ctx, settings.CheckInterval(), settings.StatusInterval()); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(),
		fmt.Sprintf("Monitoring started (check every %d min, status every %d min)",
			settings.CheckIntervalMinutes, settings.StatusIntervalMinutes))
	return nil
}

func (p *CommandProcessor) stopMonitoring(ctx context.Context, cmd domain.RemoteCommand) error {
	if _, err := p.deps.Config.Update(ctx, func(s *domain.Settings) error {
		s.MonitoringActive = false
		return nil
	}); err != nil {
		return fmt.Errorf("disable monitoring: %w", err)
	}
	p.deps.Scheduler.CancelAll()
	p.deps.Recorder.Record(ctx, cmd.Kind.EventKind(), "Monitoring stopped")
	return nil
}

// unknown records exactly one diagnostic event and does nothing else.
func (p *CommandProcessor) unknown(ctx context.Context, cmd domain.RemoteCommand) error {
	p.deps.Recorder.Record(ctx, domain.CommandUnknown.EventKind(), fmt.Sprintf("Unknown command: %s", cmd.Name))
	return nil
}

func (p *CommandProcessor) rescheduleIfActive(ctx context.Context) {
	settings, err := p.deps.Config.Load(ctx)
	if err != nil || !settings.MonitoringActive {
		return
	}
	if err := p.deps.Scheduler.Schedule(ctx, settings.CheckInterval(), settings.StatusInterval()); err != nil {
		p.logger.Error("failed to restore schedule", zap.Error(err))
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
