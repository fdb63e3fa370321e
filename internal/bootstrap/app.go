package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-converter/internal/batch"
	"media-converter/internal/config"
	"media-converter/internal/diagnostics"
	"media-converter/internal/domain"
	"media-converter/internal/encode"
	"media-converter/internal/history"
	"media-converter/internal/jobs"
	"media-converter/internal/logging"
	"media-converter/internal/profile"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// BatchEventName is the runtime event carrying jobs.Event payloads.
const BatchEventName = "batch:event"

var videoDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Video files",
		Pattern:     "*.mp4;*.mov;*.mkv;*.avi;*.mxf;*.m4v;*.webm;*.mts;*.m2ts",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App wires configuration, the batch engine, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Engine      config.Engine
	Runner      batchRunner
	Records     historyStore
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     diagnosticsChecker
	caps        capabilities
	codecs      codecProber
	installer   *toolInstaller
	logger      zerolog.Logger
	closers     []io.Closer

	mu         sync.Mutex
	selection  []string
	events     *jobs.EventBus
	runtimeCtx context.Context
}

// batchRunner isolates the conversion engine behind an interface.
type batchRunner interface {
	Start(ctx context.Context, req batch.Request) (<-chan jobs.Event, error)
	Cancel()
	Wait()
	Current() domain.BatchRun
	Last() domain.BatchRun
}

type historyStore interface {
	List(limit int) ([]domain.BatchRecord, error)
}

type diagnosticsChecker interface {
	Run(ctx context.Context, settings domain.Settings, hwAccel bool) domain.DiagnosticReport
	ThreadChoices(ctx context.Context) []int
}

type capabilities interface {
	HasRequiredTools(ctx context.Context) bool
	HasHardwareAccel(ctx context.Context) bool
	Refresh()
}

type codecProber interface {
	VideoCodec(ctx context.Context, path string) (string, error)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	appDir := config.AppDir()
	if err := ensureLocalBinOnPATH(appDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	engine, err := config.LoadEngine(filepath.Join(appDir, "config.yaml"))
	if err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{Level: engine.LogLevel, File: engine.LogFile})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(appDir, "settings.json"))
	settings, err := store.Load()
	if err != nil {
		_ = logCloser.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker(engine.FFmpegPath, engine.FFprobePath, engine.HWProbeTimeout)
	caps := diagnostics.NewCapabilities(checker, engine.EnableHWAccel)
	probe := encode.NewDurationProbe(engine.FFprobePath)
	supervisor := encode.NewSupervisor(encode.Options{
		FFmpegPath:          engine.FFmpegPath,
		KillTimeout:         engine.KillTimeout,
		SkipUnknownDuration: engine.SkipUnknownDuration,
		StderrTailLines:     engine.StderrTailLines,
	}, probe, caps.HasHardwareAccel, logger.With().Str("component", "encode").Logger())

	app := &App{
		Settings:  settings,
		Store:     store,
		Engine:    engine,
		assets:    assets,
		checker:   checker,
		caps:      caps,
		codecs:    probe,
		installer: newToolInstaller(),
		logger:    logger,
		closers:   []io.Closer{logCloser},
		events:    jobs.NewEventBus(engine.EventBuffer),
	}

	var recorder batch.Recorder
	hist, err := history.Open(engine.HistoryPath)
	if err != nil {
		logger.Warn().Err(err).Msg("batch history disabled")
	} else {
		recorder = hist
		app.Records = hist
		app.closers = append([]io.Closer{hist}, app.closers...)
	}

	app.Runner = batch.NewRunner(supervisor, caps, jobs.NewManager(), recorder, batch.Options{
		EventBuffer:    engine.EventBuffer,
		DefaultThreads: engine.DefaultThreads,
	}, logger.With().Str("component", "batch").Logger())

	app.Diagnostics = app.runDiagnostics(context.Background(), settings)
	logger.Info().
		Bool("has_failures", app.Diagnostics.HasFailures).
		Bool("hwaccel", app.Diagnostics.HardwareAccel).
		Msg("startup diagnostics")

	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Media Converter",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// Shutdown stops any running batch, waits for it to be recorded, and
// releases files.
func (a *App) Shutdown(context.Context) {
	if a.Runner != nil {
		a.Runner.Cancel()
		a.Runner.Wait()
	}

	a.mu.Lock()
	a.runtimeCtx = nil
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			a.logger.Error().Err(err).Msg("shutdown")
		}
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings, drops cached probes and reruns checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	if a.caps != nil {
		a.caps.Refresh()
	}
	return a.refreshDiagnostics(settings), nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.refreshDiagnostics(normalized)
	return normalized, nil
}

// Profiles lists the selectable conversion profiles.
func (a *App) Profiles() []profile.Profile {
	return profile.All()
}

// ThreadChoices lists selectable thread hints, 0 meaning encoder default.
func (a *App) ThreadChoices() []int {
	if a.checker == nil {
		return []int{0}
	}
	return a.checker.ThreadChoices(context.Background())
}

// SelectedFiles returns the current input selection.
func (a *App) SelectedFiles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.selection...)
}

// ClearSelection empties the input selection.
func (a *App) ClearSelection() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selection = nil
}

// AddFiles appends paths to the selection, skipping duplicates.
func (a *App) AddFiles(paths []string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.selection = config.MergeFiles(a.selection, paths)
	return append([]string(nil), a.selection...)
}

// PickInputFiles opens a native multi-select dialog, appends the picks to
// the selection and remembers the directory they came from.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	startDir := a.Settings.LastInputDir
	a.mu.Unlock()

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select video files",
		DefaultDirectory: startDir,
		Filters:          videoDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	picked := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			picked = append(picked, p)
		}
	}
	if len(picked) == 0 {
		return a.SelectedFiles(), nil
	}

	if err := a.rememberDirs(filepath.Dir(picked[0]), ""); err != nil {
		a.logger.Warn().Err(err).Msg("cannot persist input directory")
	}
	return a.AddFiles(picked), nil
}

// InspectFiles probes the video codec of each path and flags long-GOP
// sources that should be converted to an intermediate before editing.
func (a *App) InspectFiles(paths []string) []domain.SourceFile {
	out := make([]domain.SourceFile, 0, len(paths))
	for _, p := range paths {
		src := domain.SourceFile{Path: p}
		if a.codecs != nil {
			codec, err := a.codecs.VideoCodec(context.Background(), p)
			if err != nil {
				a.logger.Debug().Err(err).Str("source", p).Msg("codec probe failed")
			} else {
				src.Codec = codec
				src.NeedsIntermediate = encode.IsLongGOP(codec)
			}
		}
		out = append(out, src)
	}
	return out
}

// PickOutputDirectory opens a native directory picker and persists the choice.
func (a *App) PickOutputDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	startDir := a.Settings.OutputDir
	a.mu.Unlock()

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:            "Select output directory",
		DefaultDirectory: startDir,
	})
	if err != nil {
		return "", err
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if err := a.rememberDirs("", path); err != nil {
		return path, fmt.Errorf("save output directory: %w", err)
	}
	return path, nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// StartConversion converts files (or the current selection when empty) with
// the given profile into the configured output directory. An empty profile
// or negative thread hint reuses the saved choice. It returns once the batch
// is running; progress arrives as BatchEventName runtime events.
func (a *App) StartConversion(files []string, profileID string, threads int) (domain.BatchRun, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.BatchRun{}, fmt.Errorf("load settings: %w", err)
	}
	if len(files) == 0 {
		files = a.SelectedFiles()
	}
	if strings.TrimSpace(profileID) == "" {
		profileID = settings.ProfileID
	}
	if threads < 0 {
		threads = settings.Threads
	}

	events, err := a.Runner.Start(context.Background(), batch.Request{
		Files:     files,
		ProfileID: profile.ID(profileID),
		DestDir:   settings.OutputDir,
		Threads:   threads,
	})
	if err != nil {
		a.publishEvent(jobs.Event{Type: jobs.EventTypeError, JobIndex: -1, Message: err.Error()})
		return domain.BatchRun{}, err
	}

	settings.ProfileID = profileID
	settings.Threads = threads
	if err := a.Store.Save(settings); err != nil {
		a.logger.Warn().Err(err).Msg("cannot persist profile selection")
	}
	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	current := a.Runner.Current()
	go a.forwardEvents(events)
	return current, nil
}

// CancelConversion stops the running batch.
func (a *App) CancelConversion() error {
	if a.Runner.Current().Status != domain.BatchStatusRunning {
		return jobs.ErrNoRunningBatch
	}
	a.Runner.Cancel()
	return nil
}

// CurrentBatch returns the running batch, or an idle snapshot.
func (a *App) CurrentBatch() domain.BatchRun {
	return a.Runner.Current()
}

// LastBatch returns the most recently finished batch, so a reloaded UI can
// show its outcome.
func (a *App) LastBatch() domain.BatchRun {
	return a.Runner.Last()
}

// LastEventSeq returns the newest event sequence; pass it to BatchEvents
// to read only what follows.
func (a *App) LastEventSeq() int64 {
	return a.events.LastSeq()
}

// BatchEvents returns all events with sequence greater than sinceSeq.
func (a *App) BatchEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// History returns up to limit finished batches, newest first.
func (a *App) History(limit int) ([]domain.BatchRecord, error) {
	if a.Records == nil {
		return nil, nil
	}
	records, err := a.Records.List(limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return records, nil
}

// forwardEvents republishes runner events until the batch stream closes.
func (a *App) forwardEvents(events <-chan jobs.Event) {
	for event := range events {
		a.publishEvent(event)
		if event.Terminal() && event.Summary != nil {
			a.logger.Info().
				Str("batch", event.BatchID).
				Str("status", string(event.Summary.Status)).
				Int("succeeded", event.Summary.Succeeded).
				Int("failed", event.Summary.Failed).
				Int("skipped", event.Summary.Skipped).
				Int("cancelled", event.Summary.Cancelled).
				Msg("batch finished")
		}
	}
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, BatchEventName, published)
	}
}

// rememberDirs persists the last input and output directories; empty
// arguments leave the stored value unchanged.
func (a *App) rememberDirs(inputDir, outputDir string) error {
	settings, err := a.Store.Load()
	if err != nil {
		return err
	}
	if inputDir != "" {
		settings.LastInputDir = inputDir
	}
	if outputDir != "" {
		settings.OutputDir = outputDir
	}
	settings = normalizeSettings(settings)
	if err := a.Store.Save(settings); err != nil {
		return err
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()
	return nil
}

// refreshDiagnostics stores settings and recomputes the report.
func (a *App) refreshDiagnostics(settings domain.Settings) domain.DiagnosticReport {
	report := a.runDiagnostics(context.Background(), settings)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	if a.checker != nil {
		a.Diagnostics = report
	}
	return a.Diagnostics
}

func (a *App) runDiagnostics(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	if a.checker == nil {
		return domain.DiagnosticReport{}
	}
	hw := false
	if a.caps != nil {
		hw = a.caps.HasHardwareAccel(ctx)
	}
	return a.checker.Run(ctx, settings, hw)
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, errors.New("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and falls back to the default profile
// when the stored one is unknown.
func normalizeSettings(settings domain.Settings) domain.Settings {
	settings.LastInputDir = strings.TrimSpace(settings.LastInputDir)
	settings.OutputDir = strings.TrimSpace(settings.OutputDir)
	settings.ProfileID = strings.TrimSpace(settings.ProfileID)
	if _, err := profile.Resolve(profile.ID(settings.ProfileID)); err != nil {
		settings.ProfileID = string(profile.Default().ID)
	}
	if settings.Threads < 0 {
		settings.Threads = 0
	}
	return settings
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
