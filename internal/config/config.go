package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	TemplateDir string `toml:"template_dir"`
	OutputDir   string `toml:"output_dir"`
}

// API contains the daemon HTTP surface settings.
type API struct {
	Bind string `toml:"bind"`
}

// Engine selects how jobs are driven through the pipeline.
type Engine struct {
	Mode string `toml:"mode"`
}

// Workflow contains dispatcher timing and per-stage timeouts, in seconds.
type Workflow struct {
	SweepInterval     int `toml:"sweep_interval"`
	TemplateTimeout   int `toml:"template_timeout"`
	TaggedTextTimeout int `toml:"tagged_text_timeout"`
	RenderTimeout     int `toml:"render_timeout"`
}

// Scheduler contains the bounded executor settings used in scheduled mode.
type Scheduler struct {
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
	ShutdownTimeout   int `toml:"shutdown_timeout"`
}

// Transform contains the queue bridge settings.
type Transform struct {
	AMQPURL             string  `toml:"amqp_url"`
	Exchange            string  `toml:"exchange"`
	TemplateQueue       string  `toml:"template_queue"`
	TaggedTextQueue     string  `toml:"tagged_text_queue"`
	StatusRatePerSecond float64 `toml:"status_rate_per_second"`
	StatusBurst         int     `toml:"status_burst"`
}

// Storage selects the object store holding templates and transform markers.
type Storage struct {
	Backend    string `toml:"backend"`
	LocalRoot  string `toml:"local_root"`
	S3Bucket   string `toml:"s3_bucket"`
	S3Region   string `toml:"s3_region"`
	S3Endpoint string `toml:"s3_endpoint"`
}

// RenderEndpoint is one remote document-rendering host.
type RenderEndpoint struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// RenderScripts names the scripts invoked on a render endpoint.
type RenderScripts struct {
	TaggedText    string `toml:"tagged_text"`
	OpenDocument  string `toml:"open_document"`
	ApplyLayout   string `toml:"apply_layout"`
	ExportPDF     string `toml:"export_pdf"`
	ExportPackage string `toml:"export_package"`
}

// Render contains the worker pool endpoint list and request settings.
type Render struct {
	RequestTimeout int              `toml:"request_timeout"`
	Scripts        RenderScripts    `toml:"scripts"`
	Endpoints      []RenderEndpoint `toml:"endpoints"`
}

// Auth maps project names to the requesters allowed to preview them. A "*"
// entry admits every requester.
type Auth struct {
	Projects map[string][]string `toml:"projects"`
}

// Project carries per-project metadata.
type Project struct {
	Markers []string `toml:"markers"`
}

// Bound constrains one layout parameter.
type Bound struct {
	Min     float64 `toml:"min"`
	Max     float64 `toml:"max"`
	Default float64 `toml:"default"`
}

// Layout holds the bounds for every layout override a job may carry.
type Layout struct {
	PageWidth   Bound `toml:"page_width"`
	PageHeight  Bound `toml:"page_height"`
	FontSize    Bound `toml:"font_size"`
	LineSpacing Bound `toml:"line_spacing"`
	Margin      Bound `toml:"margin"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for galley.
type Config struct {
	Paths     Paths              `toml:"paths"`
	API       API                `toml:"api"`
	Engine    Engine             `toml:"engine"`
	Workflow  Workflow           `toml:"workflow"`
	Scheduler Scheduler          `toml:"scheduler"`
	Transform Transform          `toml:"transform"`
	Storage   Storage            `toml:"storage"`
	Render    Render             `toml:"render"`
	Auth      Auth               `toml:"auth"`
	Projects  map[string]Project `toml:"projects"`
	Layout    Layout             `toml:"layout"`
	Logging   Logging            `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/galley/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("galley.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.TemplateDir, c.Paths.OutputDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.LocalRoot)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the job store database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "galley.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "galley.lock")
}

// APIBaseURL returns the URL CLI commands use to reach the daemon.
func (c *Config) APIBaseURL() string {
	return "http://" + c.API.Bind
}

// SweepIntervalDuration returns the dispatcher tick period.
func (w Workflow) SweepIntervalDuration() time.Duration {
	return seconds(w.SweepInterval)
}

func (w Workflow) TemplateTimeoutDuration() time.Duration {
	return seconds(w.TemplateTimeout)
}

func (w Workflow) TaggedTextTimeoutDuration() time.Duration {
	return seconds(w.TaggedTextTimeout)
}

func (w Workflow) RenderTimeoutDuration() time.Duration {
	return seconds(w.RenderTimeout)
}

// ShutdownTimeoutDuration bounds how long the scheduler waits for running units.
func (s Scheduler) ShutdownTimeoutDuration() time.Duration {
	return seconds(s.ShutdownTimeout)
}

// RequestTimeoutDuration bounds a single script call against a render endpoint.
func (r Render) RequestTimeoutDuration() time.Duration {
	return seconds(r.RequestTimeout)
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
