package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

const (
	appDirName = "OverAI"

	maxConfigFileBytes int64 = 1 << 20 // 1MB
	maxRenameRetry           = 10
	// Windows file lock releases (antivirus/indexing) typically settle quickly.
	// Use a short linear backoff: baseDelay * (1..maxRenameRetry).
	renameRetryBaseDelay = 10 * time.Millisecond
	// maxValidPort is the highest TCP port number. Port 0 means "OS auto-assign".
	maxValidPort = 65535

	minCheckInterval = 10 * time.Second
	maxCheckInterval = 10 * time.Minute
	maxDebounce      = 2 * time.Second
)

// ErrConfigCorrupt is returned by Load when the file exists but cannot be
// parsed. The returned Config is DefaultConfig() in that case.
var ErrConfigCorrupt = errors.New("config file is corrupt")

// Test seams.
var (
	userConfigDirFn = os.UserConfigDir
	userHomeDirFn   = os.UserHomeDir
	// defaultConfigDirFn is overridden by tests to simulate directory-resolution
	// failures in validateConfigPath.
	defaultConfigDirFn = defaultConfigDir
)

var defaultPathWarningState struct {
	mu       sync.Mutex
	messages []string
}

func recordDefaultPathWarning(message string) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return
	}
	defaultPathWarningState.mu.Lock()
	defaultPathWarningState.messages = append(defaultPathWarningState.messages, trimmed)
	defaultPathWarningState.mu.Unlock()
}

// ConsumeDefaultPathWarnings returns and clears path-resolution warnings
// accumulated during DefaultDir() calls.
func ConsumeDefaultPathWarnings() []string {
	defaultPathWarningState.mu.Lock()
	defer defaultPathWarningState.mu.Unlock()
	if len(defaultPathWarningState.messages) == 0 {
		return nil
	}
	out := make([]string, len(defaultPathWarningState.messages))
	copy(out, defaultPathWarningState.messages)
	defaultPathWarningState.messages = nil
	return out
}

// Config is the OverAI runtime configuration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
	// DefaultService is used when no last service has been recorded yet.
	DefaultService string           `yaml:"default_service" json:"default_service"`
	Hotkey         HotkeyConfig     `yaml:"hotkey" json:"hotkey"`
	Memory         MemoryConfig     `yaml:"memory" json:"memory"`
	Window         WindowConfig     `yaml:"window" json:"window"`
	LocalLLM       LocalLLMConfig   `yaml:"local_llm" json:"local_llm"`
	APIServices    []APIService     `yaml:"api_services,omitempty" json:"api_services,omitempty"`
	ChatBridge     ChatBridgeConfig `yaml:"chat_bridge" json:"chat_bridge"`
	Metrics        MetricsConfig    `yaml:"metrics" json:"metrics"`
}

// HotkeyConfig controls the global trigger. The combination itself lives in
// hotkey.json and is owned by the hotkeys package.
type HotkeyConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// MemoryConfig holds the memory-pressure thresholds in megabytes.
type MemoryConfig struct {
	WarningMB     float64       `yaml:"warning_mb" json:"warning_mb"`
	CriticalMB    float64       `yaml:"critical_mb" json:"critical_mb"`
	GrowthMB      float64       `yaml:"growth_mb" json:"growth_mb"`
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval"`
}

// WindowConfig holds presentation options that are not user-adjusted at runtime.
type WindowConfig struct {
	AlwaysOnTop bool `yaml:"always_on_top" json:"always_on_top"`
}

// LocalLLMConfig points at an Ollama-compatible server.
type LocalLLMConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// APIService describes an OpenAI-compatible chat endpoint.
// The API key is read from the environment variable named by APIKeyEnv.
type APIService struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	BaseURL     string `yaml:"base_url" json:"base_url"`
	ChatPath    string `yaml:"chat_path,omitempty" json:"chat_path,omitempty"`
	Model       string `yaml:"model" json:"model"`
	APIKeyEnv   string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	RequiresKey bool   `yaml:"requires_key" json:"requires_key"`
}

// ChatBridgeConfig configures the local chat HTTP/WebSocket server.
type ChatBridgeConfig struct {
	// Port 0 (default) lets the OS assign an available port.
	Port              int     `yaml:"port" json:"port"`
	MessagesPerSecond float64 `yaml:"messages_per_second" json:"messages_per_second"`
}

// MetricsConfig toggles the Prometheus endpoint on the chat bridge.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel:       "info",
		DefaultService: "grok",
		Hotkey: HotkeyConfig{
			Enabled:  true,
			Debounce: 200 * time.Millisecond,
		},
		Memory: MemoryConfig{
			WarningMB:     200,
			CriticalMB:    400,
			GrowthMB:      50,
			CheckInterval: 60 * time.Second,
		},
		Window: WindowConfig{
			AlwaysOnTop: true,
		},
		LocalLLM: LocalLLMConfig{
			BaseURL: "http://127.0.0.1:11434",
			Timeout: 120 * time.Second,
		},
		APIServices: DefaultAPIServices(),
		ChatBridge: ChatBridgeConfig{
			MessagesPerSecond: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// DefaultAPIServices returns the OpenAI-compatible endpoints known out of the box.
func DefaultAPIServices() []APIService {
	return []APIService{
		{ID: "openai", Name: "OpenAI", BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY", RequiresKey: true},
		{ID: "anthropic", Name: "Anthropic", BaseURL: "https://api.anthropic.com/v1", ChatPath: "/messages", Model: "claude-3-5-haiku-latest", APIKeyEnv: "ANTHROPIC_API_KEY", RequiresKey: true},
		{ID: "groq", Name: "Groq", BaseURL: "https://api.groq.com/openai/v1", Model: "llama-3.1-8b-instant", APIKeyEnv: "GROQ_API_KEY", RequiresKey: true},
		{ID: "ollama", Name: "Ollama (OpenAI API)", BaseURL: "http://127.0.0.1:11434/v1", Model: "llama3.2"},
		{ID: "openrouter", Name: "OpenRouter", BaseURL: "https://openrouter.ai/api/v1", Model: "openrouter/auto", APIKeyEnv: "OPENROUTER_API_KEY", RequiresKey: true},
	}
}

// DefaultDir resolves the per-user data directory. OVERAI_CONFIG_DIR wins,
// then the OS config dir, then ~/.config, and finally os.TempDir() when the
// home directory cannot be resolved. The temp-dir fallback is not a stable
// persistence location.
func DefaultDir() string {
	if override := strings.TrimSpace(os.Getenv("OVERAI_CONFIG_DIR")); override != "" {
		return override
	}
	if base, err := userConfigDirFn(); err == nil && strings.TrimSpace(base) != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := userHomeDirFn()
	if err != nil {
		slog.Warn("[WARN-CONFIG] using temp dir as config path fallback", "error", err)
		recordDefaultPathWarning(
			"Config path fallback: failed to resolve the config and home directories. Using temp directory; settings persistence may be limited.",
		)
		return filepath.Join(os.TempDir(), appDirName)
	}
	return filepath.Join(home, ".config", appDirName)
}

// DefaultPath returns the config.yaml path inside DefaultDir.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Load reads the config file. A missing or empty file yields defaults with no
// error. An unparsable file yields defaults and an error wrapping
// ErrConfigCorrupt.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, errors.New("config path required")
	}

	raw, err := readLimitedFile(path, maxConfigFileBytes)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		slog.Warn("[WARN-CONFIG] failed to parse config, using defaults", "path", path, "error", err)
		return DefaultConfig(), fmt.Errorf("%w: %s: %v", ErrConfigCorrupt, path, err)
	}
	applyDefaultsAndValidate(&cfg)
	return cfg, nil
}

// EnsureFile writes the default config if missing and returns the loaded config.
func EnsureFile(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		if _, err := Save(path, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// Save validates cfg and writes it atomically. Returns the normalized config
// that was actually written to disk.
func Save(path string, cfg Config) (Config, error) {
	normalizedPath, err := validateConfigPath(path)
	if err != nil {
		return cfg, err
	}
	applyDefaultsAndValidate(&cfg)

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg, fmt.Errorf("save config: marshal: %w", err)
	}
	if err := WriteFileAtomic(normalizedPath, raw); err != nil {
		return cfg, fmt.Errorf("save config: %w", err)
	}
	slog.Debug("[DEBUG-CONFIG] config saved", "path", path)
	return cfg, nil
}

// WriteFileAtomic writes data using temp-file + rename so readers never see a
// partial file, retrying the rename on Windows to tolerate transient locks.
// The file is created owner-only.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpFile != nil {
			if closeErr := tmpFile.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
				slog.Warn("[WARN-CONFIG] failed to close temp file", "path", tmpPath, "error", closeErr)
			}
		}
		if err != nil {
			if removeErr := os.Remove(tmpPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				slog.Warn("[WARN-CONFIG] failed to remove temp file", "path", tmpPath, "error", removeErr)
			}
		}
	}()

	if err = tmpFile.Chmod(0o600); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if _, err = tmpFile.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err = tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	err = tmpFile.Close()
	tmpFile = nil
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}

	if err = renameFileWithRetry(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadLimitedFile reads at most maxBytes from path and fails if the file is larger.
func ReadLimitedFile(path string, maxBytes int64) ([]byte, error) {
	return readLimitedFile(path, maxBytes)
}

// validateConfigPath normalizes path and enforces that config writes stay
// inside the default config directory.
func validateConfigPath(path string) (string, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return "", errors.New("config path required")
	}
	absolutePath, err := filepath.Abs(trimmedPath)
	if err != nil {
		return "", fmt.Errorf("save config: resolve path: %w", err)
	}

	expectedDir, err := defaultConfigDirFn()
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	absoluteExpectedDir, err := filepath.Abs(expectedDir)
	if err != nil {
		return "", fmt.Errorf("save config: resolve config dir: %w", err)
	}
	if !pathWithinDir(absolutePath, absoluteExpectedDir) {
		return "", fmt.Errorf("save config: path outside config directory: %q", absolutePath)
	}
	return absolutePath, nil
}

func defaultConfigDir() (string, error) {
	return DefaultDir(), nil
}

// pathWithinDir blocks directory traversal by ensuring path is under dir.
// It also rejects Windows cross-drive escapes because filepath.Rel returns
// an absolute path when roots differ.
func pathWithinDir(path string, dir string) bool {
	relativePath, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}
	if relativePath == "." {
		return true
	}
	if relativePath == ".." || strings.HasPrefix(relativePath, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(relativePath)
}

var allowedLogLevels = []string{"debug", "info", "warn", "error"}

// applyDefaultsAndValidate repairs out-of-range values in place. Every repair
// is logged; none is fatal.
// MUTATES: cfg is directly modified.
func applyDefaultsAndValidate(cfg *Config) {
	defaults := DefaultConfig()

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if !slices.Contains(allowedLogLevels, cfg.LogLevel) {
		if cfg.LogLevel != "" {
			slog.Warn("[WARN-CONFIG] unknown log_level, using default", "value", cfg.LogLevel, "default", defaults.LogLevel)
		}
		cfg.LogLevel = defaults.LogLevel
	}

	cfg.DefaultService = strings.TrimSpace(cfg.DefaultService)
	if cfg.DefaultService == "" {
		cfg.DefaultService = defaults.DefaultService
	}

	if cfg.Hotkey.Debounce <= 0 {
		cfg.Hotkey.Debounce = defaults.Hotkey.Debounce
	} else if cfg.Hotkey.Debounce > maxDebounce {
		slog.Warn("[WARN-CONFIG] hotkey.debounce too large, clamping", "value", cfg.Hotkey.Debounce, "max", maxDebounce)
		cfg.Hotkey.Debounce = maxDebounce
	}

	validateMemory(&cfg.Memory, defaults.Memory)

	cfg.LocalLLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LocalLLM.BaseURL), "/")
	if !isHTTPURL(cfg.LocalLLM.BaseURL) {
		if cfg.LocalLLM.BaseURL != "" {
			slog.Warn("[WARN-CONFIG] invalid local_llm.base_url, using default", "value", cfg.LocalLLM.BaseURL)
		}
		cfg.LocalLLM.BaseURL = defaults.LocalLLM.BaseURL
	}
	if cfg.LocalLLM.Timeout <= 0 {
		cfg.LocalLLM.Timeout = defaults.LocalLLM.Timeout
	}

	cfg.APIServices = sanitizeAPIServices(cfg.APIServices)

	if cfg.ChatBridge.Port < 0 || cfg.ChatBridge.Port > maxValidPort {
		slog.Warn("[WARN-CONFIG] invalid chat_bridge.port, using OS-assigned port", "value", cfg.ChatBridge.Port)
		cfg.ChatBridge.Port = 0
	}
	if cfg.ChatBridge.MessagesPerSecond <= 0 {
		cfg.ChatBridge.MessagesPerSecond = defaults.ChatBridge.MessagesPerSecond
	}
}

func validateMemory(mem *MemoryConfig, defaults MemoryConfig) {
	if mem.WarningMB <= 0 || mem.CriticalMB <= 0 || mem.WarningMB >= mem.CriticalMB {
		slog.Warn("[WARN-CONFIG] memory thresholds must satisfy 0 < warning_mb < critical_mb, using defaults",
			"warningMB", mem.WarningMB, "criticalMB", mem.CriticalMB)
		mem.WarningMB = defaults.WarningMB
		mem.CriticalMB = defaults.CriticalMB
	}
	if mem.GrowthMB <= 0 {
		mem.GrowthMB = defaults.GrowthMB
	}
	switch {
	case mem.CheckInterval <= 0:
		mem.CheckInterval = defaults.CheckInterval
	case mem.CheckInterval < minCheckInterval:
		slog.Warn("[WARN-CONFIG] memory.check_interval too small, clamping", "value", mem.CheckInterval, "min", minCheckInterval)
		mem.CheckInterval = minCheckInterval
	case mem.CheckInterval > maxCheckInterval:
		slog.Warn("[WARN-CONFIG] memory.check_interval too large, clamping", "value", mem.CheckInterval, "max", maxCheckInterval)
		mem.CheckInterval = maxCheckInterval
	}
}

func sanitizeAPIServices(services []APIService) []APIService {
	if len(services) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(services))
	out := make([]APIService, 0, len(services))
	for _, svc := range services {
		svc.ID = strings.ToLower(strings.TrimSpace(svc.ID))
		svc.BaseURL = strings.TrimRight(strings.TrimSpace(svc.BaseURL), "/")
		svc.ChatPath = strings.TrimSpace(svc.ChatPath)
		if svc.ID == "" || !isHTTPURL(svc.BaseURL) {
			slog.Warn("[WARN-CONFIG] api service skipped: id and http(s) base_url are required", "id", svc.ID, "baseURL", svc.BaseURL)
			continue
		}
		if _, dup := seen[svc.ID]; dup {
			slog.Warn("[WARN-CONFIG] duplicate api service id skipped", "id", svc.ID)
			continue
		}
		seen[svc.ID] = struct{}{}
		if svc.ChatPath != "" && !strings.HasPrefix(svc.ChatPath, "/") {
			svc.ChatPath = "/" + svc.ChatPath
		}
		if strings.TrimSpace(svc.Name) == "" {
			svc.Name = svc.ID
		}
		out = append(out, svc)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isHTTPURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func readLimitedFile(path string, maxBytes int64) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	limited := io.LimitReader(file, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxBytes)
	}
	return raw, nil
}

func renameFileWithRetry(sourcePath string, targetPath string) error {
	var lastErr error
	for attempt := range maxRenameRetry {
		err := os.Rename(sourcePath, targetPath)
		if err == nil {
			return nil
		}
		lastErr = err
		if runtime.GOOS != "windows" {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * renameRetryBaseDelay)
	}
	return lastErr
}
