package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"sentinel/internal/templatefmt"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultServiceName          = "sentinel"
	defaultSuppressionWindowSec = 300
	defaultStatusAddr           = ":8093"
	defaultShutdownGraceSec     = 10
	defaultReloadSeconds        = 5
	defaultWebhookAddr          = ":8092"
	defaultWebhookPath          = "/incident"
	defaultWebhookMaxBodyBytes  = 256 << 10
	defaultWebhookReadHeaderSec = 5
	defaultNATSURL              = "nats://127.0.0.1:4222"
	defaultIngestSubject        = "sentinel.incidents"
	defaultIngestStream         = "SENTINEL_INCIDENTS"
	defaultIngestConsumer       = "sentinel-ingest"
	defaultIngestGroup          = "sentinel-workers"
	defaultNATSAckWaitSec       = 30
	defaultNATSNackDelayMS      = 1000
	defaultNATSMaxDeliver       = -1
	defaultNATSMaxAckPending    = 2048
	defaultEscalationJournal    = "sentinel-escalations.jsonl"
	defaultEscalationStream     = "SENTINEL_ESCALATIONS"
	defaultEscalationSubject    = "sentinel.escalations"
	defaultStateBucket          = "sentinel-marks"
	defaultNotifyTimeoutSec     = 10
	defaultRetryInitialMS       = 500
	defaultRetryMaxMS           = 90000
	defaultRetryMaxAttempts     = 8
	defaultMonitorIntervalSec   = 60
	defaultMonitorTimeoutSec    = 10
	defaultMonitorJitterPct     = 10
	defaultFailThreshold        = 3
	defaultRecoveryThreshold    = 2
	defaultHTTPExpectStatus     = 200
	defaultRestartAttempts      = 1

	// DefaultQueueCapacity bounds the dispatch queue when service.queue_capacity is unset.
	DefaultQueueCapacity = 1024

	// MonitorKindTCP probes one TCP endpoint by connecting to it.
	MonitorKindTCP = "tcp"
	// MonitorKindHTTP probes one HTTP endpoint by status code.
	MonitorKindHTTP = "http"
	// MonitorKindService probes one systemd unit via systemctl.
	MonitorKindService = "service"
	// MonitorKindPower probes one sysfs power supply node.
	MonitorKindPower = "power"
	// MonitorKindMetric probes one Prometheus exposition sample against a threshold.
	MonitorKindMetric = "metric"

	// ProviderPushover identifies the Pushover delivery transport.
	ProviderPushover = "pushover"
	// ProviderSMS identifies the SMS gateway delivery transport.
	ProviderSMS = "sms"
	// ProviderTelegram identifies the Telegram delivery transport.
	ProviderTelegram = "telegram"
	// ProviderWebhook identifies the generic HTTP delivery transport.
	ProviderWebhook = "webhook"
)

var (
	providerOrder = []string{
		ProviderPushover,
		ProviderSMS,
		ProviderTelegram,
		ProviderWebhook,
	}
	providerRegistry = map[string]providerDescriptor{
		ProviderPushover: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.Pushover.Enabled },
			required: func(cfg NotifyConfig) bool { return cfg.Pushover.Required },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.Pushover.Retry },
		},
		ProviderSMS: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.SMS.Enabled },
			required: func(cfg NotifyConfig) bool { return cfg.SMS.Required },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.SMS.Retry },
		},
		ProviderTelegram: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.Telegram.Enabled },
			required: func(cfg NotifyConfig) bool { return cfg.Telegram.Required },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.Telegram.Retry },
		},
		ProviderWebhook: {
			enabled:  func(cfg NotifyConfig) bool { return cfg.Webhook.Enabled },
			required: func(cfg NotifyConfig) bool { return cfg.Webhook.Required },
			retry:    func(cfg NotifyConfig) NotifyRetry { return cfg.Webhook.Retry },
		},
	}
	supportedMonitorKinds = map[string]struct{}{
		MonitorKindTCP:     {},
		MonitorKindHTTP:    {},
		MonitorKindService: {},
		MonitorKindPower:   {},
		MonitorKindMetric:  {},
	}
	supportedMetricOps = map[string]struct{}{
		">":  {},
		">=": {},
		"<":  {},
		"<=": {},
		"==": {},
		"!=": {},
	}
	legacyMonitorArrayPattern         = regexp.MustCompile(`(?m)^\s*\[\[\s*monitor\s*\]\]`)
	unsupportedStatePattern           = regexp.MustCompile(`(?m)^\s*\[\[?\s*state(?:\.[^\]\s]+)*\s*\]\]?`)
	unsupportedIngestFixedKeysPattern = regexp.MustCompile(`(?si)\[\s*ingest\s*\][^\[]*\b(?:stream|consumer_name)\s*=`)
)

// providerDescriptor stores generic accessors for one delivery transport.
// Params: config readers for enabled/required/retry fields.
// Returns: provider metadata used by generic helpers.
type providerDescriptor struct {
	enabled  func(NotifyConfig) bool
	required func(NotifyConfig) bool
	retry    func(NotifyConfig) NotifyRetry
}

// Config holds service runtime settings and monitor definitions.
// Params: TOML sections from file or merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig       `toml:"service"`
	Log        LogConfig           `toml:"log"`
	Webhook    WebhookIngestConfig `toml:"webhook"`
	Ingest     NATSIngestConfig    `toml:"ingest"`
	Escalation EscalationConfig    `toml:"escalation"`
	Notify     NotifyConfig        `toml:"notify"`
	Monitor    []MonitorConfig     `toml:"monitor"`
}

// rawConfig mirrors TOML model before runtime normalization.
// Params: decoded sections from one TOML source.
// Returns: raw monitor map keyed by monitor name.
type rawConfig struct {
	Service    ServiceConfig               `toml:"service"`
	Log        LogConfig                   `toml:"log"`
	Webhook    WebhookIngestConfig         `toml:"webhook"`
	Ingest     NATSIngestConfig            `toml:"ingest"`
	Escalation EscalationConfig            `toml:"escalation"`
	Notify     NotifyConfig                `toml:"notify"`
	Monitor    map[string]rawMonitorConfig `toml:"monitor"`
}

// rawMonitorConfig stores one monitor body from `[monitor.<name>]` table.
// Params: monitor fields except top-level key-derived name.
// Returns: intermediate monitor body used for normalization.
type rawMonitorConfig struct {
	Name              string            `toml:"name"`
	Kind              string            `toml:"kind"`
	Disabled          bool              `toml:"disabled"`
	IntervalSec       int               `toml:"interval_sec"`
	TimeoutSec        int               `toml:"timeout_sec"`
	JitterPct         *int              `toml:"jitter_pct"`
	FailThreshold     int               `toml:"fail_threshold"`
	RecoveryThreshold int               `toml:"recovery_threshold"`
	DegradedThreshold int               `toml:"degraded_threshold"`
	HeartbeatURL      string            `toml:"heartbeat_url"`
	Target            string            `toml:"target"`
	URL               string            `toml:"url"`
	ExpectStatus      int               `toml:"expect_status"`
	Unit              string            `toml:"unit"`
	Restart           bool              `toml:"restart"`
	RestartAttempts   int               `toml:"restart_attempts"`
	Supply            string            `toml:"supply"`
	Metric            string            `toml:"metric"`
	MetricLabels      map[string]string `toml:"metric_labels"`
	Op                string            `toml:"op"`
	Value             float64           `toml:"value"`
}

// ServiceConfig contains process-level settings.
// Params: name, dispatch queue sizing, suppression window, and reload/shutdown controls.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name                 string `toml:"name"`
	QueueCapacity        int    `toml:"queue_capacity"`
	SuppressionWindowSec int    `toml:"suppression_window_sec"`
	StatusAddr           string `toml:"status_addr"`
	ShutdownGraceSec     int    `toml:"shutdown_grace_sec"`
	ReloadEnabled        bool   `toml:"reload_enabled"`
	ReloadIntervalSec    int    `toml:"reload_interval_sec"`
}

// WebhookIngestConfig configures the HTTP incident intake endpoint.
// Params: enable flag, listen address, path, bearer token, and body limits.
// Returns: webhook ingest behavior.
type WebhookIngestConfig struct {
	Enabled              bool   `toml:"enabled"`
	Addr                 string `toml:"addr"`
	Path                 string `toml:"path"`
	AuthToken            string `toml:"auth_token"`
	MaxBodyBytes         int64  `toml:"max_body_bytes"`
	ReadHeaderTimeoutSec int    `toml:"read_header_timeout_sec"`
}

// NATSIngestConfig configures JetStream queue-consumer incident intake.
// Params: connection + ack/redelivery policy; stream and consumer name are runtime-fixed.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Subject       string   `toml:"subject"`
	DeliverGroup  string   `toml:"queue_group"`
	Stream        string   `toml:"-"`
	ConsumerName  string   `toml:"-"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// NATSStateConfig contains fixed JetStream KV controls for the suppression backend.
// Params: URL list, mark bucket name, and bucket creation flag.
// Returns: NATS state backend options.
type NATSStateConfig struct {
	URL                []string `toml:"url"`
	Bucket             string   `toml:"bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// DeriveStateNATSConfig builds fixed suppression-backend settings from runtime config.
// Params: full runtime configuration snapshot.
// Returns: non-user-overridable NATS state settings.
func DeriveStateNATSConfig(cfg Config) NATSStateConfig {
	urls := normalizeNATSURLs(cfg.Ingest.URL)
	if len(urls) == 0 {
		urls = []string{defaultNATSURL}
	}
	return NATSStateConfig{
		URL:                urls,
		Bucket:             defaultStateBucket,
		AllowCreateBuckets: true,
	}
}

// EscalationConfig defines where undeliverable alerts are recorded.
// Params: local journal path and optional JetStream side channel.
// Returns: escalation sink options.
type EscalationConfig struct {
	JournalPath string               `toml:"journal_path"`
	NATS        EscalationNATSConfig `toml:"nats"`
}

// EscalationNATSConfig configures the JetStream escalation side channel.
// Params: enable flag, connection URL list, and stream routing keys.
// Returns: escalation publish behavior.
type EscalationNATSConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     []string `toml:"url"`
	Stream  string   `toml:"stream"`
	Subject string   `toml:"subject"`
}

// NotifyConfig defines outbound delivery behavior.
// Params: shared retry policy and per-provider transport settings.
// Returns: notification controls.
type NotifyConfig struct {
	DefaultRetry NotifyRetry      `toml:"default_retry"`
	Pushover     PushoverNotifier `toml:"pushover"`
	SMS          SMSNotifier      `toml:"sms"`
	Telegram     TelegramNotifier `toml:"telegram"`
	Webhook      WebhookNotifier  `toml:"webhook"`
}

// NotifyRetry configures outbound delivery retries.
// Params: retry toggle, backoff, attempt limits, and logging.
// Returns: retry policy for notifications.
type NotifyRetry struct {
	Enabled        bool   `toml:"enabled"`
	Backoff        string `toml:"backoff"`
	InitialMS      int    `toml:"initial_ms"`
	MaxMS          int    `toml:"max_ms"`
	MaxAttempts    int    `toml:"max_attempts"`
	LogEachAttempt bool   `toml:"log_each_attempt"`
}

// PushoverNotifier defines Pushover transport settings.
// Params: enabled/required flags, credentials, API base, severity-priority map, and templates.
// Returns: Pushover sender configuration.
type PushoverNotifier struct {
	Enabled       bool           `toml:"enabled"`
	Required      bool           `toml:"required"`
	Token         string         `toml:"token"`
	UserKey       string         `toml:"user_key"`
	Device        string         `toml:"device"`
	APIBase       string         `toml:"api_base"`
	TimeoutSec    int            `toml:"timeout_sec"`
	Priority      map[string]int `toml:"priority"`
	TitleTemplate string         `toml:"title_template"`
	BodyTemplate  string         `toml:"body_template"`
	Retry         NotifyRetry    `toml:"retry"`
}

// SMSNotifier defines SMS gateway transport settings.
// Params: enabled/required flags, gateway endpoint, credentials, recipients, and templates.
// Returns: SMS sender configuration.
type SMSNotifier struct {
	Enabled       bool        `toml:"enabled"`
	Required      bool        `toml:"required"`
	GatewayURL    string      `toml:"gateway_url"`
	APIKey        string      `toml:"api_key"`
	Sender        string      `toml:"sender"`
	Recipients    []string    `toml:"recipients"`
	TimeoutSec    int         `toml:"timeout_sec"`
	TitleTemplate string      `toml:"title_template"`
	BodyTemplate  string      `toml:"body_template"`
	Retry         NotifyRetry `toml:"retry"`
}

// TelegramNotifier defines Telegram transport settings.
// Params: enabled/required flags, bot token, chat ID, API base URL, and templates.
// Returns: Telegram sender configuration.
type TelegramNotifier struct {
	Enabled       bool        `toml:"enabled"`
	Required      bool        `toml:"required"`
	BotToken      string      `toml:"bot_token"`
	ChatID        string      `toml:"chat_id"`
	APIBase       string      `toml:"api_base"`
	TitleTemplate string      `toml:"title_template"`
	BodyTemplate  string      `toml:"body_template"`
	Retry         NotifyRetry `toml:"retry"`
}

// WebhookNotifier defines generic outbound HTTP transport settings.
// Params: enabled/required flags, URL, method, timeout, static headers, and templates.
// Returns: webhook sender configuration.
type WebhookNotifier struct {
	Enabled       bool              `toml:"enabled"`
	Required      bool              `toml:"required"`
	URL           string            `toml:"url"`
	Method        string            `toml:"method"`
	Headers       map[string]string `toml:"headers"`
	TimeoutSec    int               `toml:"timeout_sec"`
	TitleTemplate string            `toml:"title_template"`
	BodyTemplate  string            `toml:"body_template"`
	Retry         NotifyRetry       `toml:"retry"`
}

// LogConfig contains console/file logging sinks.
// Params: sink settings for each output target.
// Returns: logger setup options.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig defines one logging sink.
// Params: sink enable flag, level, format, and path.
// Returns: sink-specific behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// MonitorConfig describes one periodic probe.
// Params: scheduling, threshold, and kind-specific target settings.
// Returns: runtime monitor definition.
type MonitorConfig struct {
	Name              string            `toml:"name"`
	Kind              string            `toml:"kind"`
	Disabled          bool              `toml:"disabled"`
	IntervalSec       int               `toml:"interval_sec"`
	TimeoutSec        int               `toml:"timeout_sec"`
	JitterPct         int               `toml:"jitter_pct"`
	FailThreshold     int               `toml:"fail_threshold"`
	RecoveryThreshold int               `toml:"recovery_threshold"`
	DegradedThreshold int               `toml:"degraded_threshold"`
	HeartbeatURL      string            `toml:"heartbeat_url"`
	Target            string            `toml:"target"`
	URL               string            `toml:"url"`
	ExpectStatus      int               `toml:"expect_status"`
	Unit              string            `toml:"unit"`
	Restart           bool              `toml:"restart"`
	RestartAttempts   int               `toml:"restart_attempts"`
	Supply            string            `toml:"supply"`
	Metric            string            `toml:"metric"`
	MetricLabels      map[string]string `toml:"metric_labels"`
	Op                string            `toml:"op"`
	Value             float64           `toml:"value"`
}

// ConfigSource describes file or directory config source.
// Params: exactly one of file path or directory path.
// Returns: normalized source descriptor.
type ConfigSource struct {
	File string
	Dir  string
}

// FromCLI builds normalized source configuration from input paths.
// Params: optional file and directory arguments.
// Returns: source descriptor or validation error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)

	if filePath == "" && dirPath == "" {
		return ConfigSource{}, errors.New("either --config-file or --config-dir must be provided")
	}
	if filePath != "" && dirPath != "" {
		return ConfigSource{}, errors.New("config source must be either file or dir")
	}

	if filePath != "" {
		return ConfigSource{File: filePath}, nil
	}
	return ConfigSource{Dir: dirPath}, nil
}

// LoadSnapshot loads and validates configuration from one source.
// Params: source selects file or directory mode.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var cfg Config
	var err error
	if src.File != "" {
		cfg, err = loadFile(src.File)
	} else {
		cfg, err = loadDir(src.Dir)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configMergeHints carries explicit bool-presence markers used for directory overlays.
// Params: sparse fields decoded from one TOML fragment.
// Returns: merge behavior hints for zero-value bool overrides.
type configMergeHints struct {
	Webhook    toggleMergeHints     `toml:"webhook"`
	Ingest     toggleMergeHints     `toml:"ingest"`
	Escalation escalationMergeHints `toml:"escalation"`
	Notify     notifyMergeHints     `toml:"notify"`
}

// toggleMergeHints tracks one explicit enabled flag in a section.
// Params: sparse enabled field decoded from one TOML fragment.
// Returns: bool-presence marker for merge logic.
type toggleMergeHints struct {
	Enabled *bool `toml:"enabled"`
}

// escalationMergeHints tracks explicit bool fields in escalation section.
// Params: sparse escalation values decoded from one TOML fragment.
// Returns: bool-presence markers for merge logic.
type escalationMergeHints struct {
	NATS toggleMergeHints `toml:"nats"`
}

// notifyMergeHints tracks explicit bool fields in notify provider sections.
// Params: sparse notify values decoded from one TOML fragment.
// Returns: bool-presence markers for merge logic.
type notifyMergeHints struct {
	Pushover providerMergeHints `toml:"pushover"`
	SMS      providerMergeHints `toml:"sms"`
	Telegram providerMergeHints `toml:"telegram"`
	Webhook  providerMergeHints `toml:"webhook"`
}

// providerMergeHints tracks explicit enabled/required flags in one provider section.
// Params: sparse provider fields decoded from one TOML fragment.
// Returns: provider bool-presence markers for merge logic.
type providerMergeHints struct {
	Enabled  *bool `toml:"enabled"`
	Required *bool `toml:"required"`
}

// hasExplicitBool reports whether notify fragment contains explicit bool keys.
// Params: notify merge hints from one TOML fragment.
// Returns: true when at least one bool was explicitly set.
func (h notifyMergeHints) hasExplicitBool() bool {
	return h.Pushover.hasExplicitBool() ||
		h.SMS.hasExplicitBool() ||
		h.Telegram.hasExplicitBool() ||
		h.Webhook.hasExplicitBool()
}

// hasExplicitBool reports whether one provider fragment contains explicit bool keys.
// Params: provider merge hints from one TOML fragment.
// Returns: true when enabled or required was explicitly set.
func (h providerMergeHints) hasExplicitBool() bool {
	return h.Enabled != nil || h.Required != nil
}

// normalizeRawConfig converts raw TOML model to runtime config.
// Params: decoded raw config from file fragment.
// Returns: normalized config snapshot.
func normalizeRawConfig(raw rawConfig) (Config, error) {
	cfg := Config{
		Service:    raw.Service,
		Log:        raw.Log,
		Webhook:    raw.Webhook,
		Ingest:     raw.Ingest,
		Escalation: raw.Escalation,
		Notify:     raw.Notify,
	}
	if len(raw.Monitor) == 0 {
		return cfg, nil
	}

	names := make([]string, 0, len(raw.Monitor))
	for name := range raw.Monitor {
		names = append(names, name)
	}
	sort.Strings(names)
	cfg.Monitor = make([]MonitorConfig, 0, len(names))
	for _, name := range names {
		body := raw.Monitor[name]
		if strings.TrimSpace(body.Name) != "" {
			return Config{}, fmt.Errorf("monitor.%s.name is not supported; use [monitor.%s] key as monitor name", name, name)
		}
		jitterPct := -1
		if body.JitterPct != nil {
			jitterPct = *body.JitterPct
		}
		cfg.Monitor = append(cfg.Monitor, MonitorConfig{
			Name:              name,
			Kind:              body.Kind,
			Disabled:          body.Disabled,
			IntervalSec:       body.IntervalSec,
			TimeoutSec:        body.TimeoutSec,
			JitterPct:         jitterPct,
			FailThreshold:     body.FailThreshold,
			RecoveryThreshold: body.RecoveryThreshold,
			DegradedThreshold: body.DegradedThreshold,
			HeartbeatURL:      body.HeartbeatURL,
			Target:            body.Target,
			URL:               body.URL,
			ExpectStatus:      body.ExpectStatus,
			Unit:              body.Unit,
			Restart:           body.Restart,
			RestartAttempts:   body.RestartAttempts,
			Supply:            body.Supply,
			Metric:            body.Metric,
			MetricLabels:      body.MetricLabels,
			Op:                body.Op,
			Value:             body.Value,
		})
	}

	return cfg, nil
}

// rejectUnsupportedSyntax checks deprecated/forbidden TOML syntax and returns explicit error.
// Params: raw TOML file body.
// Returns: error when unsupported syntax is detected.
func rejectUnsupportedSyntax(body []byte) error {
	if legacyMonitorArrayPattern.Match(body) {
		return errors.New("legacy [[monitor]] format is not supported; use [monitor.<monitor_name>] tables")
	}
	if unsupportedStatePattern.Match(body) {
		return errors.New("state configuration is not supported; suppression backend settings are fixed and derived from ingest.url")
	}
	if unsupportedIngestFixedKeysPattern.Match(body) {
		return errors.New("ingest.stream and ingest.consumer_name are fixed in runtime and must not be configured")
	}
	return nil
}

// loadFile reads one TOML configuration file.
// Params: file path to config snapshot.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	return cfg, nil
}

// loadFileForMerge reads one TOML file with merge hints.
// Params: file path to config fragment.
// Returns: decoded config plus explicit-bool hints for overlay merge.
func loadFileForMerge(path string) (Config, configMergeHints, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := rejectUnsupportedSyntax(body); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var raw rawConfig
	if err := toml.Unmarshal(body, &raw); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	cfg, err := normalizeRawConfig(raw)
	if err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	var hints configMergeHints
	if err := toml.Unmarshal(body, &hints); err != nil {
		return Config{}, configMergeHints{}, fmt.Errorf("decode merge hints %q: %w", path, err)
	}
	return cfg, hints, nil
}

// loadDir reads and merges TOML files from one directory.
// Params: directory containing config fragments.
// Returns: merged config snapshot or load/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".toml" {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	if len(files) == 0 {
		return Config{}, fmt.Errorf("no .toml files found in %q", dir)
	}
	sort.Strings(files)

	var merged Config
	for _, file := range files {
		fragment, hints, err := loadFileForMerge(file)
		if err != nil {
			return Config{}, err
		}
		mergeConfig(&merged, fragment, hints)
	}
	return merged, nil
}

// mergeConfig overlays source onto destination.
// Params: destination config and next fragment.
// Returns: merged configuration side-effect in dst.
func mergeConfig(dst *Config, src Config, hints configMergeHints) {
	if src.Service != (ServiceConfig{}) {
		dst.Service = src.Service
	}
	if src.Log != (LogConfig{}) {
		dst.Log = src.Log
	}
	if hasWebhookIngestConfig(src.Webhook) || hints.Webhook.Enabled != nil {
		mergeWebhookIngest(&dst.Webhook, src.Webhook, hints.Webhook)
	}
	if hasNATSIngestConfig(src.Ingest) || hints.Ingest.Enabled != nil {
		mergeNATSIngest(&dst.Ingest, src.Ingest, hints.Ingest)
	}
	if hasEscalationConfig(src.Escalation) || hints.Escalation.NATS.Enabled != nil {
		mergeEscalation(&dst.Escalation, src.Escalation, hints.Escalation)
	}
	if hasNotifyConfig(src.Notify) || hints.Notify.hasExplicitBool() {
		mergeNotifyConfig(&dst.Notify, src.Notify, hints.Notify)
	}
	if len(src.Monitor) > 0 {
		mergeMonitors(&dst.Monitor, src.Monitor)
	}
}

// mergeWebhookIngest overlays webhook intake fragment preserving existing sibling fields.
// Params: destination webhook config and fragment from one source file.
// Returns: merged webhook configuration side-effect in dst.
func mergeWebhookIngest(dst *WebhookIngestConfig, src WebhookIngestConfig, hints toggleMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if strings.TrimSpace(src.Addr) != "" {
		dst.Addr = src.Addr
	}
	if strings.TrimSpace(src.Path) != "" {
		dst.Path = src.Path
	}
	if strings.TrimSpace(src.AuthToken) != "" {
		dst.AuthToken = src.AuthToken
	}
	if src.MaxBodyBytes != 0 {
		dst.MaxBodyBytes = src.MaxBodyBytes
	}
	if src.ReadHeaderTimeoutSec != 0 {
		dst.ReadHeaderTimeoutSec = src.ReadHeaderTimeoutSec
	}
}

// mergeNATSIngest overlays NATS intake fragment preserving existing sibling fields.
// Params: destination ingest config and fragment from one source file.
// Returns: merged ingest configuration side-effect in dst.
func mergeNATSIngest(dst *NATSIngestConfig, src NATSIngestConfig, hints toggleMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	if len(src.URL) > 0 {
		dst.URL = append([]string(nil), src.URL...)
	}
	if strings.TrimSpace(src.Subject) != "" {
		dst.Subject = src.Subject
	}
	if strings.TrimSpace(src.DeliverGroup) != "" {
		dst.DeliverGroup = src.DeliverGroup
	}
	if src.AckWaitSec != 0 {
		dst.AckWaitSec = src.AckWaitSec
	}
	if src.NackDelayMS != 0 {
		dst.NackDelayMS = src.NackDelayMS
	}
	if src.MaxDeliver != 0 {
		dst.MaxDeliver = src.MaxDeliver
	}
	if src.MaxAckPending != 0 {
		dst.MaxAckPending = src.MaxAckPending
	}
}

// mergeEscalation overlays escalation fragment preserving existing sibling fields.
// Params: destination escalation config and fragment from one source file.
// Returns: merged escalation configuration side-effect in dst.
func mergeEscalation(dst *EscalationConfig, src EscalationConfig, hints escalationMergeHints) {
	if strings.TrimSpace(src.JournalPath) != "" {
		dst.JournalPath = src.JournalPath
	}
	applyBoolMerge(&dst.NATS.Enabled, src.NATS.Enabled, hints.NATS.Enabled)
	if len(src.NATS.URL) > 0 {
		dst.NATS.URL = append([]string(nil), src.NATS.URL...)
	}
	if strings.TrimSpace(src.NATS.Stream) != "" {
		dst.NATS.Stream = src.NATS.Stream
	}
	if strings.TrimSpace(src.NATS.Subject) != "" {
		dst.NATS.Subject = src.NATS.Subject
	}
}

// mergeNotifyConfig overlays notify fragment into destination preserving existing sibling fields.
// Params: destination notify config and fragment from one source file.
// Returns: merged notify configuration side-effect in dst.
func mergeNotifyConfig(dst *NotifyConfig, src NotifyConfig, hints notifyMergeHints) {
	if src.DefaultRetry != (NotifyRetry{}) {
		dst.DefaultRetry = src.DefaultRetry
	}
	mergePushoverNotifier(&dst.Pushover, src.Pushover, hints.Pushover)
	mergeSMSNotifier(&dst.SMS, src.SMS, hints.SMS)
	mergeTelegramNotifier(&dst.Telegram, src.Telegram, hints.Telegram)
	mergeWebhookNotifier(&dst.Webhook, src.Webhook, hints.Webhook)
}

// mergePushoverNotifier overlays pushover transport config preserving other notify fields.
// Params: destination pushover config and source fragment.
// Returns: merged pushover configuration side-effect in dst.
func mergePushoverNotifier(dst *PushoverNotifier, src PushoverNotifier, hints providerMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	applyBoolMerge(&dst.Required, src.Required, hints.Required)
	if strings.TrimSpace(src.Token) != "" {
		dst.Token = src.Token
	}
	if strings.TrimSpace(src.UserKey) != "" {
		dst.UserKey = src.UserKey
	}
	if strings.TrimSpace(src.Device) != "" {
		dst.Device = src.Device
	}
	if strings.TrimSpace(src.APIBase) != "" {
		dst.APIBase = src.APIBase
	}
	if src.TimeoutSec != 0 {
		dst.TimeoutSec = src.TimeoutSec
	}
	if len(src.Priority) > 0 {
		if dst.Priority == nil {
			dst.Priority = make(map[string]int, len(src.Priority))
		}
		for key, value := range src.Priority {
			dst.Priority[key] = value
		}
	}
	if strings.TrimSpace(src.TitleTemplate) != "" {
		dst.TitleTemplate = src.TitleTemplate
	}
	if strings.TrimSpace(src.BodyTemplate) != "" {
		dst.BodyTemplate = src.BodyTemplate
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
}

// mergeSMSNotifier overlays SMS transport config preserving other notify fields.
// Params: destination SMS config and source fragment.
// Returns: merged SMS configuration side-effect in dst.
func mergeSMSNotifier(dst *SMSNotifier, src SMSNotifier, hints providerMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	applyBoolMerge(&dst.Required, src.Required, hints.Required)
	if strings.TrimSpace(src.GatewayURL) != "" {
		dst.GatewayURL = src.GatewayURL
	}
	if strings.TrimSpace(src.APIKey) != "" {
		dst.APIKey = src.APIKey
	}
	if strings.TrimSpace(src.Sender) != "" {
		dst.Sender = src.Sender
	}
	if len(src.Recipients) > 0 {
		dst.Recipients = append([]string(nil), src.Recipients...)
	}
	if src.TimeoutSec != 0 {
		dst.TimeoutSec = src.TimeoutSec
	}
	if strings.TrimSpace(src.TitleTemplate) != "" {
		dst.TitleTemplate = src.TitleTemplate
	}
	if strings.TrimSpace(src.BodyTemplate) != "" {
		dst.BodyTemplate = src.BodyTemplate
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
}

// mergeTelegramNotifier overlays telegram transport config preserving other notify fields.
// Params: destination telegram config and source fragment.
// Returns: merged telegram configuration side-effect in dst.
func mergeTelegramNotifier(dst *TelegramNotifier, src TelegramNotifier, hints providerMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	applyBoolMerge(&dst.Required, src.Required, hints.Required)
	if strings.TrimSpace(src.BotToken) != "" {
		dst.BotToken = src.BotToken
	}
	if strings.TrimSpace(src.ChatID) != "" {
		dst.ChatID = src.ChatID
	}
	if strings.TrimSpace(src.APIBase) != "" {
		dst.APIBase = src.APIBase
	}
	if strings.TrimSpace(src.TitleTemplate) != "" {
		dst.TitleTemplate = src.TitleTemplate
	}
	if strings.TrimSpace(src.BodyTemplate) != "" {
		dst.BodyTemplate = src.BodyTemplate
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
}

// mergeWebhookNotifier overlays webhook transport config preserving other notify fields.
// Params: destination webhook config and source fragment.
// Returns: merged webhook configuration side-effect in dst.
func mergeWebhookNotifier(dst *WebhookNotifier, src WebhookNotifier, hints providerMergeHints) {
	applyBoolMerge(&dst.Enabled, src.Enabled, hints.Enabled)
	applyBoolMerge(&dst.Required, src.Required, hints.Required)
	if strings.TrimSpace(src.URL) != "" {
		dst.URL = src.URL
	}
	if strings.TrimSpace(src.Method) != "" {
		dst.Method = src.Method
	}
	if len(src.Headers) > 0 {
		if dst.Headers == nil {
			dst.Headers = make(map[string]string, len(src.Headers))
		}
		for key, value := range src.Headers {
			dst.Headers[key] = value
		}
	}
	if src.TimeoutSec != 0 {
		dst.TimeoutSec = src.TimeoutSec
	}
	if strings.TrimSpace(src.TitleTemplate) != "" {
		dst.TitleTemplate = src.TitleTemplate
	}
	if strings.TrimSpace(src.BodyTemplate) != "" {
		dst.BodyTemplate = src.BodyTemplate
	}
	if src.Retry != (NotifyRetry{}) {
		dst.Retry = src.Retry
	}
}

// mergeMonitors overlays monitor fragments by name, later fragments winning.
// Params: destination monitor list and source fragment list.
// Returns: merged sorted monitor list side-effect in dst.
func mergeMonitors(dst *[]MonitorConfig, src []MonitorConfig) {
	if len(*dst) == 0 {
		*dst = append([]MonitorConfig(nil), src...)
		return
	}
	byName := make(map[string]int, len(*dst))
	for i := range *dst {
		byName[(*dst)[i].Name] = i
	}
	for _, monitor := range src {
		if i, exists := byName[monitor.Name]; exists {
			(*dst)[i] = monitor
			continue
		}
		byName[monitor.Name] = len(*dst)
		*dst = append(*dst, monitor)
	}
	sort.Slice(*dst, func(i, j int) bool { return (*dst)[i].Name < (*dst)[j].Name })
}

// applyBoolMerge merges bool with explicit-value awareness for directory overlays.
// Params: destination bool pointer, source decoded bool, and explicit source marker.
// Returns: merged bool side-effect in dst.
func applyBoolMerge(dst *bool, value bool, explicit *bool) {
	if explicit != nil {
		*dst = *explicit
		return
	}
	if value {
		*dst = true
	}
}

// hasWebhookIngestConfig checks whether webhook section contains explicit values.
// Params: webhook configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasWebhookIngestConfig(cfg WebhookIngestConfig) bool {
	return cfg.Enabled ||
		strings.TrimSpace(cfg.Addr) != "" ||
		strings.TrimSpace(cfg.Path) != "" ||
		strings.TrimSpace(cfg.AuthToken) != "" ||
		cfg.MaxBodyBytes != 0 ||
		cfg.ReadHeaderTimeoutSec != 0
}

// hasNATSIngestConfig checks whether ingest section contains explicit values.
// Params: ingest configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasNATSIngestConfig(cfg NATSIngestConfig) bool {
	return cfg.Enabled ||
		len(cfg.URL) > 0 ||
		strings.TrimSpace(cfg.Subject) != "" ||
		strings.TrimSpace(cfg.DeliverGroup) != "" ||
		cfg.AckWaitSec != 0 ||
		cfg.NackDelayMS != 0 ||
		cfg.MaxDeliver != 0 ||
		cfg.MaxAckPending != 0
}

// hasEscalationConfig checks whether escalation section contains explicit values.
// Params: escalation configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasEscalationConfig(cfg EscalationConfig) bool {
	return strings.TrimSpace(cfg.JournalPath) != "" ||
		cfg.NATS.Enabled ||
		len(cfg.NATS.URL) > 0 ||
		strings.TrimSpace(cfg.NATS.Stream) != "" ||
		strings.TrimSpace(cfg.NATS.Subject) != ""
}

// hasNotifyConfig checks whether notify section contains any explicit values.
// Params: notify configuration fragment.
// Returns: true when section should be merged into destination snapshot.
func hasNotifyConfig(cfg NotifyConfig) bool {
	if cfg.DefaultRetry != (NotifyRetry{}) {
		return true
	}
	return hasPushoverConfig(cfg.Pushover) ||
		hasSMSConfig(cfg.SMS) ||
		hasTelegramConfig(cfg.Telegram) ||
		hasWebhookNotifierConfig(cfg.Webhook)
}

// hasPushoverConfig checks whether pushover section contains explicit values.
// Params: pushover notifier fragment.
// Returns: true when pushover section should be merged.
func hasPushoverConfig(cfg PushoverNotifier) bool {
	return cfg.Enabled ||
		cfg.Required ||
		strings.TrimSpace(cfg.Token) != "" ||
		strings.TrimSpace(cfg.UserKey) != "" ||
		strings.TrimSpace(cfg.Device) != "" ||
		strings.TrimSpace(cfg.APIBase) != "" ||
		cfg.TimeoutSec != 0 ||
		len(cfg.Priority) > 0 ||
		strings.TrimSpace(cfg.TitleTemplate) != "" ||
		strings.TrimSpace(cfg.BodyTemplate) != "" ||
		cfg.Retry != (NotifyRetry{})
}

// hasSMSConfig checks whether SMS section contains explicit values.
// Params: SMS notifier fragment.
// Returns: true when SMS section should be merged.
func hasSMSConfig(cfg SMSNotifier) bool {
	return cfg.Enabled ||
		cfg.Required ||
		strings.TrimSpace(cfg.GatewayURL) != "" ||
		strings.TrimSpace(cfg.APIKey) != "" ||
		strings.TrimSpace(cfg.Sender) != "" ||
		len(cfg.Recipients) > 0 ||
		cfg.TimeoutSec != 0 ||
		strings.TrimSpace(cfg.TitleTemplate) != "" ||
		strings.TrimSpace(cfg.BodyTemplate) != "" ||
		cfg.Retry != (NotifyRetry{})
}

// hasTelegramConfig checks whether telegram section contains explicit values.
// Params: telegram notifier fragment.
// Returns: true when telegram section should be merged.
func hasTelegramConfig(cfg TelegramNotifier) bool {
	return cfg.Enabled ||
		cfg.Required ||
		strings.TrimSpace(cfg.BotToken) != "" ||
		strings.TrimSpace(cfg.ChatID) != "" ||
		strings.TrimSpace(cfg.APIBase) != "" ||
		strings.TrimSpace(cfg.TitleTemplate) != "" ||
		strings.TrimSpace(cfg.BodyTemplate) != "" ||
		cfg.Retry != (NotifyRetry{})
}

// hasWebhookNotifierConfig checks whether webhook notifier section contains explicit values.
// Params: webhook notifier fragment.
// Returns: true when webhook section should be merged.
func hasWebhookNotifierConfig(cfg WebhookNotifier) bool {
	return cfg.Enabled ||
		cfg.Required ||
		strings.TrimSpace(cfg.URL) != "" ||
		strings.TrimSpace(cfg.Method) != "" ||
		len(cfg.Headers) > 0 ||
		cfg.TimeoutSec != 0 ||
		strings.TrimSpace(cfg.TitleTemplate) != "" ||
		strings.TrimSpace(cfg.BodyTemplate) != "" ||
		cfg.Retry != (NotifyRetry{})
}

// applyDefaults fills omitted config fields with safe defaults.
// Params: cfg pointer to decoded snapshot.
// Returns: defaults applied in place.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Service.Name) == "" {
		cfg.Service.Name = defaultServiceName
	}
	if cfg.Service.QueueCapacity <= 0 {
		cfg.Service.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Service.SuppressionWindowSec <= 0 {
		cfg.Service.SuppressionWindowSec = defaultSuppressionWindowSec
	}
	if strings.TrimSpace(cfg.Service.StatusAddr) == "" {
		cfg.Service.StatusAddr = defaultStatusAddr
	}
	if cfg.Service.ShutdownGraceSec <= 0 {
		cfg.Service.ShutdownGraceSec = defaultShutdownGraceSec
	}
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}

	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}
	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}

	if strings.TrimSpace(cfg.Webhook.Addr) == "" {
		cfg.Webhook.Addr = defaultWebhookAddr
	}
	if strings.TrimSpace(cfg.Webhook.Path) == "" {
		cfg.Webhook.Path = defaultWebhookPath
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		cfg.Webhook.MaxBodyBytes = defaultWebhookMaxBodyBytes
	}
	if cfg.Webhook.ReadHeaderTimeoutSec <= 0 {
		cfg.Webhook.ReadHeaderTimeoutSec = defaultWebhookReadHeaderSec
	}

	cfg.Ingest.URL = normalizeNATSURLs(cfg.Ingest.URL)
	if len(cfg.Ingest.URL) == 0 {
		cfg.Ingest.URL = []string{defaultNATSURL}
	}
	cfg.Ingest.Stream = defaultIngestStream
	cfg.Ingest.ConsumerName = defaultIngestConsumer
	if strings.TrimSpace(cfg.Ingest.Subject) == "" {
		cfg.Ingest.Subject = defaultIngestSubject
	}
	if strings.TrimSpace(cfg.Ingest.DeliverGroup) == "" {
		cfg.Ingest.DeliverGroup = defaultIngestGroup
	}
	if cfg.Ingest.AckWaitSec <= 0 {
		cfg.Ingest.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.Ingest.NackDelayMS < 0 {
		cfg.Ingest.NackDelayMS = 0
	}
	if cfg.Ingest.NackDelayMS == 0 {
		cfg.Ingest.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.Ingest.MaxDeliver == 0 {
		cfg.Ingest.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.Ingest.MaxAckPending <= 0 {
		cfg.Ingest.MaxAckPending = defaultNATSMaxAckPending
	}

	if strings.TrimSpace(cfg.Escalation.JournalPath) == "" {
		cfg.Escalation.JournalPath = defaultEscalationJournal
	}
	cfg.Escalation.NATS.URL = normalizeNATSURLs(cfg.Escalation.NATS.URL)
	if len(cfg.Escalation.NATS.URL) == 0 {
		// Escalations ride the same cluster the incident intake uses.
		cfg.Escalation.NATS.URL = append([]string(nil), cfg.Ingest.URL...)
	}
	if strings.TrimSpace(cfg.Escalation.NATS.Stream) == "" {
		cfg.Escalation.NATS.Stream = defaultEscalationStream
	}
	if strings.TrimSpace(cfg.Escalation.NATS.Subject) == "" {
		cfg.Escalation.NATS.Subject = defaultEscalationSubject
	}

	if cfg.Notify.DefaultRetry == (NotifyRetry{}) {
		cfg.Notify.DefaultRetry.Enabled = true
	}
	fillNotifyRetryDefaults(&cfg.Notify.DefaultRetry)
	inheritRetry(&cfg.Notify.Pushover.Retry, cfg.Notify.DefaultRetry)
	inheritRetry(&cfg.Notify.SMS.Retry, cfg.Notify.DefaultRetry)
	inheritRetry(&cfg.Notify.Telegram.Retry, cfg.Notify.DefaultRetry)
	inheritRetry(&cfg.Notify.Webhook.Retry, cfg.Notify.DefaultRetry)
	if strings.TrimSpace(cfg.Notify.Pushover.APIBase) == "" {
		cfg.Notify.Pushover.APIBase = "https://api.pushover.net"
	}
	if cfg.Notify.Pushover.TimeoutSec <= 0 {
		cfg.Notify.Pushover.TimeoutSec = defaultNotifyTimeoutSec
	}
	if cfg.Notify.SMS.TimeoutSec <= 0 {
		cfg.Notify.SMS.TimeoutSec = defaultNotifyTimeoutSec
	}
	if strings.TrimSpace(cfg.Notify.Telegram.APIBase) == "" {
		cfg.Notify.Telegram.APIBase = "https://api.telegram.org"
	}
	if strings.TrimSpace(cfg.Notify.Webhook.Method) == "" {
		cfg.Notify.Webhook.Method = "POST"
	}
	if cfg.Notify.Webhook.TimeoutSec <= 0 {
		cfg.Notify.Webhook.TimeoutSec = defaultNotifyTimeoutSec
	}

	for i := range cfg.Monitor {
		monitor := &cfg.Monitor[i]
		if monitor.IntervalSec <= 0 {
			monitor.IntervalSec = defaultMonitorIntervalSec
		}
		if monitor.TimeoutSec <= 0 {
			monitor.TimeoutSec = defaultMonitorTimeoutSec
		}
		if monitor.JitterPct < 0 {
			monitor.JitterPct = defaultMonitorJitterPct
		}
		if monitor.FailThreshold <= 0 {
			monitor.FailThreshold = defaultFailThreshold
		}
		if monitor.RecoveryThreshold <= 0 {
			monitor.RecoveryThreshold = defaultRecoveryThreshold
		}
		if monitor.Kind == MonitorKindHTTP && monitor.ExpectStatus <= 0 {
			monitor.ExpectStatus = defaultHTTPExpectStatus
		}
		if monitor.Kind == MonitorKindService && monitor.Restart && monitor.RestartAttempts <= 0 {
			monitor.RestartAttempts = defaultRestartAttempts
		}
	}
}

// inheritRetry copies the default policy into one provider when its retry table is unset.
// Params: provider retry pointer and filled default policy.
// Returns: resolved policy side-effect in retry.
func inheritRetry(retry *NotifyRetry, fallback NotifyRetry) {
	if *retry == (NotifyRetry{}) {
		*retry = fallback
		return
	}
	fillNotifyRetryDefaults(retry)
}

// fillNotifyRetryDefaults normalizes retry policy fields for one provider.
// Params: retry policy pointer.
// Returns: policy defaults applied in place.
func fillNotifyRetryDefaults(retry *NotifyRetry) {
	if retry == nil {
		return
	}
	if retry.Backoff == "" {
		retry.Backoff = "exponential"
	}
	if retry.InitialMS <= 0 {
		retry.InitialMS = defaultRetryInitialMS
	}
	if retry.MaxMS <= 0 {
		retry.MaxMS = defaultRetryMaxMS
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = defaultRetryMaxAttempts
	}
}

// validateConfig validates full runtime configuration.
// Params: cfg snapshot to validate.
// Returns: validation error with first failing field path.
func validateConfig(cfg Config) error {
	if len(cfg.Monitor) == 0 {
		return errors.New("at least one monitor is required")
	}
	if cfg.Service.QueueCapacity <= 0 {
		return errors.New("service.queue_capacity must be >0")
	}
	if cfg.Service.SuppressionWindowSec <= 0 {
		return errors.New("service.suppression_window_sec must be >0")
	}
	if strings.TrimSpace(cfg.Service.StatusAddr) == "" {
		return errors.New("service.status_addr is required")
	}

	if err := validateLogSink("log.console", cfg.Log.Console, false); err != nil {
		return err
	}
	if err := validateLogSink("log.file", cfg.Log.File, true); err != nil {
		return err
	}

	if cfg.Webhook.Enabled {
		if strings.TrimSpace(cfg.Webhook.Addr) == "" {
			return errors.New("webhook.addr is required when webhook.enabled=true")
		}
		if strings.TrimSpace(cfg.Webhook.AuthToken) == "" {
			return errors.New("webhook.auth_token is required when webhook.enabled=true")
		}
		if cfg.Webhook.MaxBodyBytes <= 0 {
			return errors.New("webhook.max_body_bytes must be >0")
		}
	}

	if cfg.Ingest.Enabled {
		if len(cfg.Ingest.URL) == 0 {
			return errors.New("ingest.url is required when ingest.enabled=true")
		}
		for i, url := range cfg.Ingest.URL {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("ingest.url[%d] is empty", i)
			}
		}
		if cfg.Ingest.AckWaitSec <= 0 {
			return errors.New("ingest.ack_wait_sec must be >0 when ingest.enabled=true")
		}
		if cfg.Ingest.NackDelayMS < 0 {
			return errors.New("ingest.nack_delay_ms must be >=0")
		}
		if cfg.Ingest.MaxDeliver == 0 || cfg.Ingest.MaxDeliver < -1 {
			return errors.New("ingest.max_deliver must be -1 or >0")
		}
		if cfg.Ingest.MaxAckPending <= 0 {
			return errors.New("ingest.max_ack_pending must be >0 when ingest.enabled=true")
		}
	}

	if cfg.Escalation.NATS.Enabled {
		if len(cfg.Escalation.NATS.URL) == 0 {
			return errors.New("escalation.nats.url is required when escalation.nats.enabled=true")
		}
		for i, url := range cfg.Escalation.NATS.URL {
			if strings.TrimSpace(url) == "" {
				return fmt.Errorf("escalation.nats.url[%d] is empty", i)
			}
		}
	}

	if err := validateNotify(cfg.Notify); err != nil {
		return err
	}

	monitorNames := make(map[string]struct{}, len(cfg.Monitor))
	enabledMonitors := 0
	for i, monitor := range cfg.Monitor {
		if err := validateMonitor(monitor); err != nil {
			return fmt.Errorf("monitor[%d] %q: %w", i, monitor.Name, err)
		}
		if _, exists := monitorNames[monitor.Name]; exists {
			return fmt.Errorf("duplicate monitor name %q", monitor.Name)
		}
		monitorNames[monitor.Name] = struct{}{}
		if !monitor.Disabled {
			enabledMonitors++
		}
	}
	if enabledMonitors == 0 {
		return errors.New("at least one enabled monitor is required")
	}

	return nil
}

// validateNotify validates provider transports and the shared retry policy.
// Params: notify section from config snapshot.
// Returns: validation error with field path.
func validateNotify(cfg NotifyConfig) error {
	if err := validateNotifyRetry("notify.default_retry", cfg.DefaultRetry); err != nil {
		return err
	}

	enabled := 0
	required := 0
	for _, provider := range ProviderNames() {
		if !ProviderEnabled(cfg, provider) {
			continue
		}
		enabled++
		if ProviderRequired(cfg, provider) {
			required++
		}
		if err := validateNotifyRetry("notify."+provider+".retry", ProviderRetry(cfg, provider)); err != nil {
			return err
		}
	}
	if enabled == 0 {
		return errors.New("at least one enabled notify provider is required")
	}
	if required == 0 {
		return errors.New("at least one enabled notify provider must set required=true")
	}

	if cfg.Pushover.Enabled {
		if strings.TrimSpace(cfg.Pushover.Token) == "" {
			return errors.New("notify.pushover.token is required when notify.pushover.enabled=true")
		}
		if strings.TrimSpace(cfg.Pushover.UserKey) == "" {
			return errors.New("notify.pushover.user_key is required when notify.pushover.enabled=true")
		}
	}
	if cfg.SMS.Enabled {
		if strings.TrimSpace(cfg.SMS.GatewayURL) == "" {
			return errors.New("notify.sms.gateway_url is required when notify.sms.enabled=true")
		}
		if len(cfg.SMS.Recipients) == 0 {
			return errors.New("notify.sms.recipients is required when notify.sms.enabled=true")
		}
		for i, recipient := range cfg.SMS.Recipients {
			if strings.TrimSpace(recipient) == "" {
				return fmt.Errorf("notify.sms.recipients[%d] is empty", i)
			}
		}
	}
	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
			return errors.New("notify.telegram.bot_token is required when notify.telegram.enabled=true")
		}
		if strings.TrimSpace(cfg.Telegram.ChatID) == "" {
			return errors.New("notify.telegram.chat_id is required when notify.telegram.enabled=true")
		}
	}
	if cfg.Webhook.Enabled && strings.TrimSpace(cfg.Webhook.URL) == "" {
		return errors.New("notify.webhook.url is required when notify.webhook.enabled=true")
	}

	if err := validateProviderTemplates(ProviderPushover, cfg.Pushover.TitleTemplate, cfg.Pushover.BodyTemplate); err != nil {
		return err
	}
	if err := validateProviderTemplates(ProviderSMS, cfg.SMS.TitleTemplate, cfg.SMS.BodyTemplate); err != nil {
		return err
	}
	if err := validateProviderTemplates(ProviderTelegram, cfg.Telegram.TitleTemplate, cfg.Telegram.BodyTemplate); err != nil {
		return err
	}
	if err := validateProviderTemplates(ProviderWebhook, cfg.Webhook.TitleTemplate, cfg.Webhook.BodyTemplate); err != nil {
		return err
	}

	return nil
}

// validateNotifyRetry validates one retry policy when it is engaged.
// Params: field path prefix and retry policy.
// Returns: retry validation error.
func validateNotifyRetry(path string, retry NotifyRetry) error {
	if !retry.Enabled {
		return nil
	}
	if retry.InitialMS <= 0 {
		return fmt.Errorf("%s.initial_ms must be >0 when %s.enabled=true", path, path)
	}
	if retry.MaxMS < retry.InitialMS {
		return fmt.Errorf("%s.max_ms must be >= initial_ms", path)
	}
	if retry.MaxAttempts == 0 || retry.MaxAttempts < -1 {
		return fmt.Errorf("%s.max_attempts must be -1 or >0", path)
	}
	return nil
}

// validateMonitor validates one monitor against schema constraints.
// Params: one normalized monitor.
// Returns: monitor-level validation error.
func validateMonitor(monitor MonitorConfig) error {
	if strings.TrimSpace(monitor.Name) == "" {
		return errors.New("name is required")
	}
	if _, supported := supportedMonitorKinds[monitor.Kind]; !supported {
		return fmt.Errorf("unsupported kind %q", monitor.Kind)
	}
	if monitor.IntervalSec <= 0 {
		return errors.New("interval_sec must be >0")
	}
	if monitor.TimeoutSec <= 0 {
		return errors.New("timeout_sec must be >0")
	}
	if monitor.JitterPct < 0 || monitor.JitterPct > 99 {
		return errors.New("jitter_pct must be between 0 and 99")
	}
	if monitor.FailThreshold < 1 {
		return errors.New("fail_threshold must be >=1")
	}
	if monitor.RecoveryThreshold < 1 {
		return errors.New("recovery_threshold must be >=1")
	}
	if monitor.DegradedThreshold < 0 {
		return errors.New("degraded_threshold must be >=0")
	}
	if monitor.DegradedThreshold > 0 && monitor.DegradedThreshold >= monitor.FailThreshold {
		return errors.New("degraded_threshold must be less than fail_threshold")
	}

	switch monitor.Kind {
	case MonitorKindTCP:
		if strings.TrimSpace(monitor.Target) == "" {
			return errors.New("target is required for kind=tcp")
		}
	case MonitorKindHTTP:
		if strings.TrimSpace(monitor.URL) == "" {
			return errors.New("url is required for kind=http")
		}
		if monitor.ExpectStatus < 100 || monitor.ExpectStatus > 599 {
			return errors.New("expect_status must be valid HTTP status code")
		}
	case MonitorKindService:
		if strings.TrimSpace(monitor.Unit) == "" {
			return errors.New("unit is required for kind=service")
		}
		if monitor.Restart && monitor.RestartAttempts < 1 {
			return errors.New("restart_attempts must be >=1 when restart=true")
		}
	case MonitorKindPower:
		if strings.TrimSpace(monitor.Supply) == "" {
			return errors.New("supply is required for kind=power")
		}
	case MonitorKindMetric:
		if strings.TrimSpace(monitor.URL) == "" {
			return errors.New("url is required for kind=metric")
		}
		if strings.TrimSpace(monitor.Metric) == "" {
			return errors.New("metric is required for kind=metric")
		}
		if _, supported := supportedMetricOps[monitor.Op]; !supported {
			return fmt.Errorf("unsupported op %q for kind=metric", monitor.Op)
		}
	}

	return nil
}

// validateProviderTemplates validates optional title/body templates for one provider.
// Params: provider key and template bodies.
// Returns: template parse error with field path.
func validateProviderTemplates(provider, titleTemplate, bodyTemplate string) error {
	if err := validateMessageTemplate("notify."+provider+".title_template", titleTemplate); err != nil {
		return err
	}
	return validateMessageTemplate("notify."+provider+".body_template", bodyTemplate)
}

// validateMessageTemplate parses one optional text template.
// Params: field path and template body.
// Returns: parse error; empty bodies are allowed and fall back to event text.
func validateMessageTemplate(path, body string) error {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return nil
	}
	if _, err := templatefmt.ParseNotificationTemplate(path, trimmed); err != nil {
		return fmt.Errorf("%s is invalid: %w", path, err)
	}
	return nil
}

// validateLogSink validates one log sink configuration.
// Params: sink name, sink values, and whether path is required.
// Returns: sink validation error.
func validateLogSink(name string, sink LogSinkConfig, requirePath bool) error {
	if !sink.Enabled {
		return nil
	}

	switch strings.ToLower(strings.TrimSpace(sink.Level)) {
	case "debug", "info", "warn", "error", "panic":
	default:
		return fmt.Errorf("%s.level has unsupported value %q", name, sink.Level)
	}

	switch strings.ToLower(strings.TrimSpace(sink.Format)) {
	case "line", "json":
	default:
		return fmt.Errorf("%s.format has unsupported value %q", name, sink.Format)
	}

	if requirePath && strings.TrimSpace(sink.Path) == "" {
		return fmt.Errorf("%s.path is required", name)
	}

	return nil
}

// ProviderNames returns deterministic list of supported provider keys.
// Params: none.
// Returns: ordered provider key list.
func ProviderNames() []string {
	out := make([]string, len(providerOrder))
	copy(out, providerOrder)
	return out
}

// ProviderEnabled checks if provider transport is enabled globally.
// Params: global notify config and provider key.
// Returns: true when corresponding transport section is enabled.
func ProviderEnabled(cfg NotifyConfig, provider string) bool {
	descriptor, ok := providerDescriptorByName(provider)
	if !ok || descriptor.enabled == nil {
		return false
	}
	return descriptor.enabled(cfg)
}

// ProviderRequired checks if provider participates in the delivered-or-escalate contract.
// Params: global notify config and provider key.
// Returns: true when the transport section sets required=true.
func ProviderRequired(cfg NotifyConfig, provider string) bool {
	descriptor, ok := providerDescriptorByName(provider)
	if !ok || descriptor.required == nil {
		return false
	}
	return descriptor.required(cfg)
}

// ProviderRetry returns retry policy for one provider.
// Params: global notify config and provider key.
// Returns: provider retry policy; LoadSnapshot inherits notify.default_retry into unset tables.
func ProviderRetry(cfg NotifyConfig, provider string) NotifyRetry {
	descriptor, ok := providerDescriptorByName(provider)
	if !ok || descriptor.retry == nil {
		return NotifyRetry{}
	}
	return descriptor.retry(cfg)
}

// providerDescriptorByName returns provider metadata descriptor by key.
// Params: raw or normalized provider key.
// Returns: descriptor and existence flag.
func providerDescriptorByName(provider string) (providerDescriptor, bool) {
	descriptor, exists := providerRegistry[strings.ToLower(strings.TrimSpace(provider))]
	return descriptor, exists
}

// normalizeNATSURLs trims spaces around each configured NATS URL.
// Params: raw URL list from config.
// Returns: normalized URL list preserving element count for validation.
func normalizeNATSURLs(urls []string) []string {
	if len(urls) == 0 {
		return nil
	}
	out := make([]string, len(urls))
	for i := range urls {
		out[i] = strings.TrimSpace(urls[i])
	}
	return out
}
