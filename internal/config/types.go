package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Secrets may be supplied through SHEETMAIL_* environment variables instead of the file.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Relay     RelayConfig     `json:"relay"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Workbook  WorkbookConfig  `json:"workbook"`
	Templates TemplatesConfig `json:"templates"`
	Storage   StorageConfig   `json:"storage"`
	Schedules []ScheduleEntry `json:"schedules,omitempty" validate:"dive"`
	Control   ControlConfig   `json:"control"`
	Telegram  TelegramConfig  `json:"telegram"`
}

type LoggingConfig struct {
	Level           string      `json:"level" env:"SHEETMAIL_LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console         bool        `json:"console"`
	// Format of the console sink: pretty (default) or json (journald, log shippers).
	Format          string      `json:"format,omitempty" validate:"omitempty,oneof=pretty json"`
	NoColor         bool        `json:"no_color,omitempty"`
	File            LoggingFile `json:"file"`
	RedactAddresses bool        `json:"redact_addresses,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// RelayConfig is the outbound mail submission endpoint, fixed per deployment.
//
// Defaults: smtp.gmail.com:587 with STARTTLS.
type RelayConfig struct {
	Host               string `json:"host" env:"SHEETMAIL_RELAY_HOST"`
	Port               int    `json:"port,omitempty" env:"SHEETMAIL_RELAY_PORT" validate:"omitempty,min=1,max=65535"`
	TLS                string `json:"tls,omitempty" validate:"omitempty,oneof=starttls tls none"`
	LocalName          string `json:"local_name,omitempty"`
	DialTimeout        string `json:"dial_timeout,omitempty"`
	Timeout            string `json:"timeout,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// DispatchConfig controls pacing. Changes apply to runs started after the reload.
//
// Defaults: interval 60s, batch_size 50, content_type html.
type DispatchConfig struct {
	Interval    string `json:"interval,omitempty"`
	BatchSize   int    `json:"batch_size,omitempty" validate:"gte=0"`
	ContentType string `json:"content_type,omitempty" validate:"omitempty,oneof=html plain"`
}

// WorkbookConfig points at the recipient workbook (.xlsx, one group per sheet, or .csv).
type WorkbookConfig struct {
	Path         string         `json:"path" env:"SHEETMAIL_WORKBOOK"`
	SenderDomain string         `json:"sender_domain,omitempty" validate:"omitempty,fqdn"`
	Columns      WorkbookColumn `json:"columns"`
}

type WorkbookColumn struct {
	Address     string `json:"address,omitempty"`
	SourceURL   string `json:"source_url,omitempty"`
	Credential  string `json:"credential,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// TemplatesConfig preloads templates: <dir>/*.txt for every group, <dir>/<group>/*.txt per group.
type TemplatesConfig struct {
	Dir string `json:"dir,omitempty"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sheetmail.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty" validate:"omitempty,oneof=none file sqlite"`
	Path        string `json:"path,omitempty" validate:"required_if=Driver file,required_if=Driver sqlite"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ScheduleEntry starts a run for group with template whenever spec fires.
// Spec is a cron expression, "@every 1h", a Go duration, or a daily "HH:MM".
type ScheduleEntry struct {
	Name     string `json:"name" validate:"required"`
	Group    string `json:"group" validate:"required"`
	Template string `json:"template" validate:"required"`
	Spec     string `json:"spec" validate:"required"`
	Disabled bool   `json:"disabled,omitempty"`
}

// ControlConfig controls the HTTP control API.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - A non-loopback address requires a token unless allow_insecure is set.
type ControlConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty" env:"SHEETMAIL_CONTROL_TOKEN"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       bool   `json:"metrics"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty" env:"SHEETMAIL_TELEGRAM_TOKEN" validate:"required_if=Enabled true"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// NotifyChat receives run completion messages (chat id); 0 disables them.
	NotifyChat int64 `json:"notify_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// NotifyPerMinute bounds completion notifications; default 20.
	NotifyPerMinute int `json:"notify_per_minute,omitempty" validate:"gte=0"`
}
