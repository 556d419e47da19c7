// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"
)

// BatchState identifies the orchestrator's current FSM state.
type BatchState int

const (
	BatchReady BatchState = iota
	BatchRunning
	BatchPaused
	BatchDone
)

func (s BatchState) String() string {
	switch s {
	case BatchReady:
		return "ready"
	case BatchRunning:
		return "running"
	case BatchPaused:
		return "paused"
	case BatchDone:
		return "done"
	default:
		return fmt.Sprintf("BatchState(%d)", int(s))
	}
}

// CompletionStatus is the externally visible progress classification,
// queryable in every state.
type CompletionStatus int

const (
	StatusNotStarted CompletionStatus = iota
	StatusInProgress
	StatusPaused
	StatusAborted
	StatusCompleted
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "not started"
	case StatusInProgress:
		return "in progress"
	case StatusPaused:
		return "paused"
	case StatusAborted:
		return "aborted"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("CompletionStatus(%d)", int(s))
	}
}

// batchTransitions is the legality table for orchestrator state
// changes.
var batchTransitions = map[BatchState][]BatchState{
	BatchReady:   {BatchRunning},
	BatchRunning: {BatchPaused, BatchDone},
	BatchPaused:  {BatchRunning, BatchDone},
	BatchDone:    {BatchReady},
}

func batchTransitionAllowed(from, to BatchState) bool {
	for _, s := range batchTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Events carries optional notification callbacks. Callbacks are
// invoked from worker goroutines and from the goroutine calling an
// orchestrator operation, never while an orchestrator or monitor lock
// is held; they must be safe for concurrent invocation.
type Events struct {
	// StateChanged fires after every committed FSM transition.
	StateChanged func(from, to BatchState)
	// ReplicationDone fires once per completed replication, including
	// failed ones.
	ReplicationDone func(res Result)
	// ReplicationError fires for replications ending in an outcome of
	// failure, with the structured detail.
	ReplicationError func(rerr *ReplicationError)
	// TimeStatsChanged fires after every completion with fresh
	// statistics.
	TimeStatsChanged func(stats TimeStats)
}

// Config assembles an orchestrator. ScenarioPath and Loader are how
// workers obtain their private scenario instances.
type Config struct {
	ScenarioPath string
	Loader       ScenarioLoader
	Settings     BatchSettings

	// SettingsPath, when set, is where settings are persisted on
	// change. Save failures are logged and retried at the next save
	// opportunity rather than surfaced.
	SettingsPath string

	// Logger defaults to a no-op logger. While a batch runs, a CSV
	// file core writing log.csv in the batch folder is attached.
	Logger *zap.Logger

	// PollInterval is the worker flag-poll debounce; zero means
	// DefaultPollInterval.
	PollInterval time.Duration

	// CoresAvailable reports the machine's core count; nil means
	// runtime.NumCPU. Replaceable for tests.
	CoresAvailable func() int

	Events Events
}

// Orchestrator is the top-level batch state machine. It owns the
// worker pool, the shared run flags, and the monitor, and exposes the
// start/pause/resume/stop/new-batch operations.
//
// Every operation first validates its preconditions and constructs
// whatever the target state needs; only when that succeeds is the
// transition committed. A failed operation reports a
// *PreconditionError and leaves the state unchanged.
type Orchestrator struct {
	cfg    Config
	log    *zap.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	state    BatchState
	status   CompletionStatus
	settings BatchSettings

	settingsDirty bool

	// Per-batch resources, valid from a committed start until
	// NewBatch.
	runState     *RunState
	monitor      *Monitor
	pool         *workerPool
	seedTable    *SeedTable
	batchDir     string
	snapshotPath string
	batchLog     *zap.Logger
	closeLog     func()
	span         trace.Span
	done         chan struct{}
}

// New creates an orchestrator in the Ready state.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("a scenario loader is required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CoresAvailable == nil {
		cfg.CoresAvailable = runtime.NumCPU
	}
	return &Orchestrator{
		cfg:      cfg,
		log:      cfg.Logger,
		tracer:   otel.Tracer("github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003"),
		state:    BatchReady,
		status:   StatusNotStarted,
		settings: cfg.Settings,
		done:     make(chan struct{}),
	}, nil
}

// State returns the orchestrator's current FSM state.
func (o *Orchestrator) State() BatchState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the current completion status.
func (o *Orchestrator) Status() CompletionStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Settings returns a copy of the current batch settings.
func (o *Orchestrator) Settings() BatchSettings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// SetSettings replaces the batch settings. Legal only while Ready.
// When a settings path is configured the new settings are persisted;
// a save failure is logged and retried at the next opportunity.
func (o *Orchestrator) SetSettings(s BatchSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	if o.state != BatchReady {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "set settings", State: o.state}
	}
	o.settings = s
	o.settingsDirty = o.cfg.SettingsPath != ""
	o.mu.Unlock()
	o.flushSettings()
	return nil
}

// flushSettings retries a pending settings save. Failures stay
// pending.
func (o *Orchestrator) flushSettings() {
	o.mu.Lock()
	if !o.settingsDirty {
		o.mu.Unlock()
		return
	}
	s := o.settings
	path := o.cfg.SettingsPath
	o.mu.Unlock()

	if err := s.Save(path); err != nil {
		o.log.Error("settings save failed, will retry", zap.Error(err))
		return
	}
	o.mu.Lock()
	o.settingsDirty = false
	o.mu.Unlock()
}

// Monitor returns the current batch's monitor, nil before the first
// start and after NewBatch.
func (o *Orchestrator) Monitor() *Monitor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.monitor
}

// BatchDir returns the current batch's output folder, empty before the
// first start.
func (o *Orchestrator) BatchDir() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.batchDir
}

// NumCoresActual computes the worker count a start would use right
// now: the minimum of available cores, wanted cores (0 meaning all),
// and total replications.
func (o *Orchestrator) NumCoresActual() int {
	o.mu.Lock()
	s := o.settings
	o.mu.Unlock()
	return numCores(o.cfg.CoresAvailable(), s.NumCoresWanted, s.TotalReplications())
}

func numCores(available, wanted, total int) int {
	n := available
	if wanted > 0 && wanted < n {
		n = wanted
	}
	if total < n {
		n = total
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Start launches a batch. Legal only from Ready, and only once a batch
// output root has been established. All folder structure, the seed
// table dump, the scenario snapshot, and the pool are prepared before
// the transition commits; work items are enqueued only after the state
// is Running, so a worker can never finish before the orchestrator
// recognizes the batch as running.
func (o *Orchestrator) Start() error {
	o.flushSettings()

	o.mu.Lock()
	if o.state != BatchReady {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "start", State: o.state}
	}
	if o.settings.BatchRunsPath == "" {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "start", State: o.state, Cause: ErrNoOutputLocation}
	}
	if err := o.settings.Validate(); err != nil {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "start", State: o.state, Cause: err}
	}

	s := o.settings
	cores := numCores(o.cfg.CoresAvailable(), s.NumCoresWanted, s.TotalReplications())

	table := s.SeedTable
	if table == nil {
		var err error
		table, err = GenerateSeedTable(s.NumVariants, s.NumReplicsPerVariant, nil)
		if err != nil {
			o.mu.Unlock()
			return err
		}
	}

	batchDir, snapshotPath, err := o.buildBatchFolder(s, table)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	batchLog, closeLog, err := o.openBatchLog(batchDir)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	_, span := o.tracer.Start(context.Background(), "batch", trace.WithAttributes(
		attribute.Int("num_variants", s.NumVariants),
		attribute.Int("num_replics_per_variant", s.NumReplicsPerVariant),
		attribute.Int("num_cores", cores),
	))

	o.runState = &RunState{}
	o.monitor = NewMonitor(s.NumVariants, s.NumReplicsPerVariant, cores, o.onReplicationComplete)
	o.seedTable = table
	o.batchDir = batchDir
	o.snapshotPath = snapshotPath
	o.batchLog = batchLog
	o.closeLog = closeLog
	o.span = span

	from := o.state
	o.setStateLocked(BatchRunning)
	o.status = StatusInProgress

	// Enqueue only now that Running is committed. Lexicographic
	// (variant, replic) order keeps dispatch deterministic.
	items := make([]workItem, 0, s.TotalReplications())
	for v := 1; v <= s.NumVariants; v++ {
		for r := 1; r <= s.NumReplicsPerVariant; r++ {
			seed, err := table.Seed(v, r)
			if err != nil {
				// Unreachable: the table was validated against the
				// same dimensions.
				o.mu.Unlock()
				return err
			}
			o.monitor.OnQueued(v, r)
			items = append(items, workItem{variantID: v, replicID: r, seed: seed})
		}
	}
	monitor := o.monitor
	o.pool = startWorkerPool(cores, items, o.runReplication, func(item workItem) {
		monitor.OnDone(item.variantID, item.replicID, OutcomeStopped)
	})
	o.mu.Unlock()

	batchLog.Info("batch started",
		zap.Int("num_variants", s.NumVariants),
		zap.Int("num_replics_per_variant", s.NumReplicsPerVariant),
		zap.Int("num_cores", cores),
		zap.String("batch_dir", batchDir))
	o.notifyStateChanged(from, BatchRunning)
	return nil
}

// runReplication is the pool's run function: it builds and drives one
// replicationWorker.
func (o *Orchestrator) runReplication(ctx context.Context, item workItem) {
	o.mu.Lock()
	w := &replicationWorker{
		variantID:    item.variantID,
		replicID:     item.replicID,
		seed:         item.seed,
		scenarioPath: o.workerScenarioPath(),
		outputDir:    filepath.Join(o.batchDir, fmt.Sprintf("v_%d_r_%d", item.variantID, item.replicID)),
		steps:        o.settings.ReplicSteps,
		saveOnExit:   o.settings.SaveScenarioOnExit,
		loader:       o.cfg.Loader,
		runState:     o.runState,
		pollInterval: o.cfg.PollInterval,
		monitor:      o.monitor,
		log: o.batchLog.With(
			zap.Int("variant", item.variantID),
			zap.Int("replic", item.replicID)),
		tracer: o.tracer,
	}
	ctx = trace.ContextWithSpan(ctx, o.span)
	o.mu.Unlock()
	w.run(ctx)
}

// workerScenarioPath returns the scenario file workers load: the
// snapshot in the batch folder when one was made, the original path
// otherwise. Callers hold o.mu.
func (o *Orchestrator) workerScenarioPath() string {
	if o.snapshotPath != "" {
		return o.snapshotPath
	}
	return o.cfg.ScenarioPath
}

// Pause requests that every worker hold between steps. Legal from
// Running; pausing an already-paused batch is a no-op. A full pause is
// only guaranteed once every worker has observed the flag within the
// poll interval.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	switch o.state {
	case BatchPaused:
		o.mu.Unlock()
		return nil
	case BatchRunning:
	default:
		defer o.mu.Unlock()
		return &PreconditionError{Op: "pause", State: o.state}
	}
	o.runState.SetPaused(true)
	o.monitor.PauseClock()
	from := o.state
	o.setStateLocked(BatchPaused)
	o.status = StatusPaused
	o.mu.Unlock()

	o.notifyStateChanged(from, BatchPaused)
	return nil
}

// Resume releases paused workers. Legal from Paused. No work is
// re-enqueued; the original pool carries on.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	if o.state != BatchPaused {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "resume", State: o.state}
	}
	o.runState.SetPaused(false)
	o.monitor.ResumeClock()
	from := o.state
	o.setStateLocked(BatchRunning)
	o.status = StatusInProgress
	o.mu.Unlock()

	o.notifyStateChanged(from, BatchRunning)
	return nil
}

// Stop aborts the batch: the exit flag is raised, the pool is
// terminated, and every replication that never started is recorded as
// stopped. Legal from Running or Paused. The batch ends with status
// Aborted whatever the workers were doing.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.state != BatchRunning && o.state != BatchPaused {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "stop", State: o.state}
	}
	o.runState.SetExit(true)
	o.runState.SetPaused(false)
	from := o.state
	o.setStateLocked(BatchDone)
	o.status = StatusAborted
	pool := o.pool
	o.mu.Unlock()

	// Terminate outside the lock: draining reports each undispatched
	// item through the monitor, which re-enters the orchestrator.
	pool.terminate()
	pool.wait()

	o.notifyStateChanged(from, BatchDone)
	o.finishBatch(false)
	return nil
}

// NewBatch discards the finished batch's monitor and results and
// returns to Ready. Legal only from Done.
func (o *Orchestrator) NewBatch() error {
	o.mu.Lock()
	if o.state != BatchDone {
		defer o.mu.Unlock()
		return &PreconditionError{Op: "new batch", State: o.state}
	}
	from := o.state
	o.setStateLocked(BatchReady)
	o.status = StatusNotStarted
	o.runState = nil
	o.monitor = nil
	o.pool = nil
	o.seedTable = nil
	o.batchDir = ""
	o.snapshotPath = ""
	o.batchLog = nil
	o.done = make(chan struct{})
	o.mu.Unlock()

	o.notifyStateChanged(from, BatchReady)
	return nil
}

// WaitTillDone blocks until the batch reaches Done. A zero timeout
// waits indefinitely; otherwise ErrWaitTimeout is returned when the
// timeout elapses first.
func (o *Orchestrator) WaitTillDone(timeout time.Duration) error {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()

	if timeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrWaitTimeout
	}
}

// onReplicationComplete is the monitor's completion hook, called from
// worker goroutines with no locks held.
func (o *Orchestrator) onReplicationComplete(res Result) {
	if res.Outcome == OutcomeFailure && o.cfg.Events.ReplicationError != nil {
		if rerr, ok := res.Err.(*ReplicationError); ok {
			o.cfg.Events.ReplicationError(rerr)
		}
	}
	if o.cfg.Events.ReplicationDone != nil {
		o.cfg.Events.ReplicationDone(res)
	}

	o.mu.Lock()
	monitor := o.monitor
	running := o.state == BatchRunning || o.state == BatchPaused
	if monitor == nil || !running || monitor.NumPending() > 0 {
		o.mu.Unlock()
		if o.cfg.Events.TimeStatsChanged != nil && monitor != nil {
			o.cfg.Events.TimeStatsChanged(monitor.TimeStats())
		}
		return
	}
	from := o.state
	o.setStateLocked(BatchDone)
	o.status = StatusCompleted
	o.mu.Unlock()

	if o.cfg.Events.TimeStatsChanged != nil {
		o.cfg.Events.TimeStatsChanged(monitor.TimeStats())
	}
	o.notifyStateChanged(from, BatchDone)
	o.finishBatch(true)
}

// finishBatch performs the enter-Done work: log the summary, run batch
// post-processing for completed batches, flush and detach the batch
// log, end the span, and release waiters. Post-processing failures are
// logged, never propagated.
func (o *Orchestrator) finishBatch(completed bool) {
	o.mu.Lock()
	monitor := o.monitor
	batchLog := o.batchLog
	closeLog := o.closeLog
	span := o.span
	done := o.done
	scenarioPath := o.workerScenarioPath()
	batchDir := o.batchDir
	o.closeLog = nil
	o.span = nil
	o.mu.Unlock()

	if batchLog != nil && monitor != nil {
		batchLog.Info("batch finished",
			zap.String("status", o.Status().String()),
			zap.String("summary", monitor.Summary()))
	}
	if completed {
		o.runBatchRole(scenarioPath, batchDir, batchLog)
	}
	if span != nil {
		span.SetAttributes(attribute.String("status", o.Status().String()))
		span.End()
	}
	if closeLog != nil {
		closeLog()
	}
	o.flushSettings()
	close(done)
}

// runBatchRole loads the scenario snapshot, runs its batch-role
// actions, and saves the post-processed result next to the batch
// outputs. Best-effort.
func (o *Orchestrator) runBatchRole(scenarioPath, batchDir string, log *zap.Logger) {
	if log == nil {
		log = o.log
	}
	if scenarioPath == "" || batchDir == "" {
		return
	}
	scen, err := o.cfg.Loader(scenarioPath)
	if err != nil {
		log.Error("batch post-processing: scenario load failed", zap.Error(err))
		return
	}
	if err := scen.RunRole(sim.RoleBatch); err != nil {
		log.Error("batch role actions failed", zap.Error(err))
		return
	}
	ext := filepath.Ext(scenarioPath)
	if ext == "" {
		ext = ".json"
	}
	path := filepath.Join(batchDir, "batch_results"+ext)
	if err := scen.Save(path); err != nil {
		log.Error("batch results save failed", zap.String("path", path), zap.Error(err))
	}
}

// setStateLocked commits an FSM transition. Callers hold o.mu and have
// already validated the operation; the table check here catches
// orchestrator bugs, not caller errors.
func (o *Orchestrator) setStateLocked(to BatchState) {
	if !batchTransitionAllowed(o.state, to) {
		panic(fmt.Sprintf("illegal batch transition %v -> %v", o.state, to))
	}
	o.state = to
}

func (o *Orchestrator) notifyStateChanged(from, to BatchState) {
	if o.cfg.Events.StateChanged != nil {
		o.cfg.Events.StateChanged(from, to)
	}
}

// buildBatchFolder creates the batch run folder and its per-replication
// subfolders, dumps the seed table, and copies the scenario snapshot
// in. Returns the batch folder and the snapshot path (empty when no
// scenario file is configured).
func (o *Orchestrator) buildBatchFolder(s BatchSettings, table *SeedTable) (batchDir, snapshotPath string, err error) {
	stamp := time.Now().Format("2006-01-02_15.04.05")
	batchDir = filepath.Join(s.BatchRunsPath,
		fmt.Sprintf("batch_%s_%dx%d", stamp, s.NumVariants, s.NumReplicsPerVariant))
	if err := os.MkdirAll(batchDir, 0o755); err != nil {
		return "", "", fmt.Errorf("create batch folder: %w", err)
	}
	for v := 1; v <= s.NumVariants; v++ {
		for r := 1; r <= s.NumReplicsPerVariant; r++ {
			dir := filepath.Join(batchDir, fmt.Sprintf("v_%d_r_%d", v, r))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("create replication folder: %w", err)
			}
		}
	}
	if err := table.Save(filepath.Join(batchDir, "seeds.csv")); err != nil {
		return "", "", err
	}
	if o.cfg.ScenarioPath != "" {
		snapshotPath = filepath.Join(batchDir, filepath.Base(o.cfg.ScenarioPath))
		if err := copyFile(o.cfg.ScenarioPath, snapshotPath); err != nil {
			return "", "", fmt.Errorf("copy scenario snapshot: %w", err)
		}
	}
	return batchDir, snapshotPath, nil
}

// openBatchLog attaches a CSV-shaped file core writing log.csv in the
// batch folder to the orchestrator's base logger.
func (o *Orchestrator) openBatchLog(batchDir string) (*zap.Logger, func(), error) {
	f, err := os.Create(filepath.Join(batchDir, "log.csv"))
	if err != nil {
		return nil, nil, fmt.Errorf("create batch log: %w", err)
	}
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: ",",
	})
	fileCore := zapcore.NewCore(enc, zapcore.AddSync(f), zapcore.InfoLevel)
	logger := o.log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	closeLog := func() {
		fileCore.Sync()
		f.Close()
	}
	return logger, closeLog, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
