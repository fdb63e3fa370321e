package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"time"

	"media-converter/internal/config"
	"media-converter/internal/domain"
)

const installCommandTimeout = 45 * time.Minute

// installOption is one package manager and the commands that install ffmpeg
// with it.
type installOption struct {
	manager  string
	commands [][]string
}

// toolInstaller installs ffmpeg through whichever package manager exists.
type toolInstaller struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func newToolInstaller() *toolInstaller {
	return &toolInstaller{
		goos:     goruntime.GOOS,
		lookPath: exec.LookPath,
		run:      runInstallCommand,
	}
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed
// diagnostic item and returns the refreshed report.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	if a.Store == nil {
		return domain.DiagnosticReport{}, fmt.Errorf("settings store is not configured")
	}

	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}
	settings = normalizeSettings(settings)

	settingsChanged := false
	var fixErr error

	switch id := strings.TrimSpace(itemID); id {
	case "":
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	case "tool_ffmpeg", "tool_ffprobe":
		installer := a.installer
		if installer == nil {
			installer = newToolInstaller()
		}
		fixErr = installer.installFFmpeg(context.Background())
	case "output_dir":
		settings, settingsChanged, fixErr = fixOutputDir(settings)
	default:
		return domain.DiagnosticReport{}, fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	if settingsChanged {
		if saveErr := a.Store.Save(settings); saveErr != nil {
			return a.refreshDiagnostics(settings), fmt.Errorf("save settings after fix: %w", saveErr)
		}
	}

	report := a.refreshDiagnostics(settings)
	if fixErr != nil {
		a.logger.Warn().Err(fixErr).Str("item", itemID).Msg("diagnostic fix failed")
		return report, fixErr
	}
	return report, nil
}

// installOptions lists package managers to try for the current OS, in order.
func (t *toolInstaller) installOptions() []installOption {
	switch t.goos {
	case "windows":
		return []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		return []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		return []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}
}

// installFFmpeg installs the ffmpeg package, which ships ffprobe too.
func (t *toolInstaller) installFFmpeg(ctx context.Context) error {
	if err := t.firstSuccessfulInstall(ctx, t.installOptions()); err != nil {
		return fmt.Errorf("install ffmpeg/ffprobe: %w", err)
	}
	if err := t.requireTools("ffmpeg", "ffprobe"); err != nil {
		return fmt.Errorf("verify ffmpeg/ffprobe on PATH: %w", err)
	}
	return nil
}

func (t *toolInstaller) firstSuccessfulInstall(ctx context.Context, options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", t.goos)
	}

	failures := make([]string, 0, len(options))
	for _, option := range options {
		if !t.available(option.manager) {
			continue
		}
		err := t.runAll(ctx, option.commands)
		if err == nil {
			return nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if len(failures) == 0 {
		return fmt.Errorf("no supported package manager found for %s", t.goos)
	}
	return errors.New(strings.Join(failures, " | "))
}

func (t *toolInstaller) runAll(ctx context.Context, commands [][]string) error {
	for _, command := range commands {
		if err := t.runElevated(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// runElevated retries system package managers through pkexec or sudo on Linux.
func (t *toolInstaller) runElevated(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	attempts := t.elevationCandidates(command)
	failures := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		err := t.run(ctx, attempt[0], attempt[1:]...)
		if err == nil {
			return nil
		}
		failures = append(failures, err.Error())
	}
	return errors.New(strings.Join(failures, " | "))
}

func (t *toolInstaller) elevationCandidates(command []string) [][]string {
	candidates := [][]string{command}
	if t.goos != "linux" || !requiresElevation(command[0]) {
		return candidates
	}
	if t.available("pkexec") {
		candidates = append(candidates, append([]string{"pkexec"}, command...))
	}
	if t.available("sudo") {
		candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
	}
	return candidates
}

func (t *toolInstaller) available(name string) bool {
	_, err := t.lookPath(name)
	return err == nil
}

func (t *toolInstaller) requireTools(names ...string) error {
	var missing []string
	for _, name := range names {
		if !t.available(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}

// runInstallCommand runs one installer step with a generous timeout and
// folds truncated output into the error.
func runInstallCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	line := strings.Join(append([]string{name}, args...), " ")
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", line, installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", line, err)
	}
	return fmt.Errorf("%s failed: %w (%s)", line, err, trimmed)
}

// ensureLocalBinOnPATH prepends ~/.media-converter/bin so a static ffmpeg
// build dropped there is found without a system install.
func ensureLocalBinOnPATH(appDir string) error {
	binDir := filepath.Join(appDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

// fixOutputDir falls back to the default destination and creates it.
func fixOutputDir(settings domain.Settings) (domain.Settings, bool, error) {
	outputDir := strings.TrimSpace(settings.OutputDir)
	changed := false
	if outputDir == "" {
		outputDir = config.DefaultSettings().OutputDir
		settings.OutputDir = outputDir
		changed = true
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return settings, changed, fmt.Errorf("create output directory %s: %w", outputDir, err)
	}

	return settings, changed, nil
}
