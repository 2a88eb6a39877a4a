//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/tastamat/fandomon/internal/daemon"
	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/infra"
	"github.com/tastamat/fandomon/internal/usecase"
)

const kiosk = "com.tastamat.fandomat"

// foregroundUsage always reports the kiosk app in the foreground.
type foregroundUsage struct{}

func (foregroundUsage) ForegroundTransitions(_ context.Context, _, to time.Time) ([]domain.ForegroundObservation, error) {
	return []domain.ForegroundObservation{{Package: kiosk, At: to.Add(-time.Second)}}, nil
}

func (foregroundUsage) RecentUsage(context.Context, time.Time, time.Time) ([]domain.UsageRecord, error) {
	return nil, nil
}

type recordingRestarter struct {
	mu      sync.Mutex
	targets []string
}

func (r *recordingRestarter) ForceRestart(_ context.Context, target string) domain.RecoveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	return domain.RecoveryResult{ActionTaken: true, Confirmed: true, Stage: "shell"}
}

type noSelf struct{}

func (noSelf) Relaunch() error { return nil }
func (noSelf) Exit()           {}

// backend collects what the REST sink posts.
type backend struct {
	mu     sync.Mutex
	events []domain.EventPayload
	status []domain.StatusPayload
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		var p domain.EventPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.events = append(b.events, p)
		b.mu.Unlock()
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		var p domain.StatusPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.mu.Lock()
		b.status = append(b.status, p)
		b.mu.Unlock()
	})
	return mux
}

func (b *backend) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.EventType)
	}
	return out
}

var _ = Describe("Remote commands against the encrypted store", func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		store     *infra.Store
		server    *httptest.Server
		remote    *backend
		workers   *daemon.Workers
		scheduler *daemon.AlarmScheduler
		syncer    *usecase.SyncDispatcher
		processor *usecase.CommandProcessor
		restarter *recordingRestarter
	)

	execute := func(payload string) error {
		cmd, err := usecase.ParseCommand([]byte(payload), time.Now())
		Expect(err).NotTo(HaveOccurred())
		return processor.Execute(ctx, cmd)
	}

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		logger := zap.NewNop()

		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		store, err = infra.OpenStore(GinkgoT().TempDir(), key, logger)
		Expect(err).NotTo(HaveOccurred())

		remote = &backend{}
		server = httptest.NewServer(remote.handler())

		_, err = store.Update(ctx, func(s *domain.Settings) error {
			s.DeviceID = "dev-int"
			s.DeviceName = "Integration kiosk"
			s.TargetPackage = kiosk
			s.RESTEnabled = true
			s.RESTBaseURL = server.URL
			return nil
		})
		Expect(err).NotTo(HaveOccurred())

		recorder := usecase.NewEventRecorder(store, logger)
		detector := usecase.NewForegroundDetector(foregroundUsage{}, "com.tastamat.fandomon", logger)
		status := usecase.NewStatusReporter(detector, nil)
		syncer = usecase.NewSyncDispatcher(store, store, status, []domain.Sink{infra.NewRESTSink(nil, logger)}, logger)

		workers = daemon.NewWorkers(ctx, 2, logger)
		scheduler = daemon.NewAlarmScheduler(infra.NewTimerClock(), store, workers,
			func(context.Context) {}, func(context.Context) {}, logger)
		restarter = &recordingRestarter{}

		processor = usecase.NewCommandProcessor(usecase.CommandDeps{
			Config:    store,
			Events:    store,
			Recorder:  recorder,
			Restarter: restarter,
			Scheduler: scheduler,
			Sync:      syncer,
			Self:      noSelf{},
			Runner:    workers,
		}, logger)
	})

	AfterEach(func() {
		scheduler.CancelAll()
		cancel()
		workers.Wait()
		server.Close()
		Expect(store.Close()).To(Succeed())
	})

	It("persists monitoring state and arms the schedule", func() {
		Expect(execute(`{"command":"START_MONITORING"}`)).To(Succeed())

		settings, err := store.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.MonitoringActive).To(BeTrue())
		_, armed := scheduler.Deadline(daemon.LineCheck)
		Expect(armed).To(BeTrue())

		Expect(execute(`{"command":"stop_monitoring"}`)).To(Succeed())
		settings, _ = store.Load(ctx)
		Expect(settings.MonitoringActive).To(BeFalse())
		_, armed = scheduler.Deadline(daemon.LineCheck)
		Expect(armed).To(BeFalse())
	})

	It("applies remote settings and reschedules with the new interval", func() {
		Expect(execute(`{"command":"START_MONITORING"}`)).To(Succeed())
		before, _ := scheduler.Deadline(daemon.LineCheck)

		Expect(execute(`{"command":"UPDATE_SETTINGS","parameters":{"check_interval":30,"mqtt_broker":"evil.example"}}`)).To(Succeed())

		settings, _ := store.Load(ctx)
		Expect(settings.CheckIntervalMinutes).To(Equal(30))
		Expect(settings.MQTTBroker).To(BeEmpty())

		after, armed := scheduler.Deadline(daemon.LineCheck)
		Expect(armed).To(BeTrue())
		Expect(after).To(BeTemporally(">", before.Add(20*time.Minute)))
	})

	It("skips an out-of-range setting without losing the rest of the batch", func() {
		Expect(execute(`{"command":"UPDATE_SETTINGS","parameters":{"check_interval":"0","device_name":"Kiosk 7"}}`)).To(Succeed())

		settings, err := store.Load(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(settings.CheckIntervalMinutes).To(Equal(domain.DefaultCheckIntervalMinutes))
		Expect(settings.DeviceName).To(Equal("Kiosk 7"))

		events, err := store.List(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(events[0].Kind).To(Equal(domain.EventKind("COMMAND_UPDATE_SETTINGS")))
	})

	It("delivers queued events and status to the backend", func() {
		Expect(execute(`{"command":"RESTART_FANDOMAT"}`)).To(Succeed())
		Expect(restarter.targets).To(ConsistOf(kiosk))

		Expect(execute(`{"command":"GET_STATUS"}`)).To(Succeed())
		syncer.Flush(ctx)

		Expect(remote.eventTypes()).To(Equal([]string{"COMMAND_RESTART_FANDOMAT", "COMMAND_GET_STATUS"}))
		Expect(remote.status).To(HaveLen(1))
		Expect(remote.status[0].FandomatRunning).To(BeTrue())
		Expect(remote.status[0].DeviceID).To(Equal("dev-int"))

		unsent, err := store.Unsent(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(unsent).To(BeEmpty())
	})

	It("keeps events when the backend is down and sends them later", func() {
		server.Close()
		Expect(execute(`{"command":"FORCE_SYNC"}`)).To(Succeed())
		syncer.Flush(ctx)

		unsent, _ := store.Unsent(ctx)
		Expect(unsent).To(HaveLen(1))

		server = httptest.NewServer(remote.handler())
		_, err := store.Set(ctx, "rest_base_url", server.URL)
		Expect(err).NotTo(HaveOccurred())

		n, err := syncer.SyncEvents(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(remote.eventTypes()).To(Equal([]string{"COMMAND_FORCE_SYNC"}))
	})

	It("clears the log and records the count", func() {
		for i := 0; i < 3; i++ {
			_, err := store.Insert(ctx, domain.EventTargetStopped, "x")
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(execute(`{"command":"clear_events"}`)).To(Succeed())

		events, err := store.List(ctx, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(events).To(HaveLen(1))
		Expect(events[0].Message).To(Equal("Cleared 3 events from database"))
	})

	It("runs commands arriving through the worker pool", func() {
		processor.HandleMessage("test", []byte(`{"command":"does_not_exist"}`))
		Eventually(func() int64 {
			n, _ := store.Count(ctx)
			return n
		}).Should(BeEquivalentTo(1))

		events, _ := store.List(ctx, 1)
		Expect(events[0].Kind).To(Equal(domain.EventKind("COMMAND_UNKNOWN")))
	})
})
