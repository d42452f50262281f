package app

import (
	"fmt"
	"strings"
	"time"

	"sheetmail/internal/config"
	"sheetmail/internal/control"
	"sheetmail/internal/delivery"
	"sheetmail/internal/dispatch"
	"sheetmail/internal/schedule"
	"sheetmail/internal/source"
	"sheetmail/internal/storage"
	"sheetmail/internal/transport/telegram"
	"sheetmail/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		NoColor: cfg.Logging.NoColor,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		RedactAddresses: cfg.Logging.RedactAddresses,
	}
}

func mapRelay(cfg *config.Config) (delivery.Relay, error) {
	rc := cfg.Relay
	relay := delivery.DefaultRelay()
	if h := strings.TrimSpace(rc.Host); h != "" {
		relay.Host = h
	}
	if rc.Port > 0 {
		relay.Port = rc.Port
	}
	if rc.TLS != "" {
		relay.TLS = delivery.TLSMode(rc.TLS)
	}
	relay.LocalName = strings.TrimSpace(rc.LocalName)
	relay.InsecureSkipVerify = rc.InsecureSkipVerify

	var err error
	if relay.DialTimeout, err = config.ParseDurationOrDefault("relay.dial_timeout", rc.DialTimeout, relay.DialTimeout); err != nil {
		return delivery.Relay{}, err
	}
	if relay.Timeout, err = config.ParseDurationOrDefault("relay.timeout", rc.Timeout, relay.Timeout); err != nil {
		return delivery.Relay{}, err
	}
	return relay, nil
}

func mapDispatch(cfg *config.Config) (dispatch.Options, error) {
	relay, err := mapRelay(cfg)
	if err != nil {
		return dispatch.Options{}, err
	}
	interval, err := config.ParseDurationOrDefault("dispatch.interval", cfg.Dispatch.Interval, dispatch.DefaultInterval)
	if err != nil {
		return dispatch.Options{}, err
	}
	return dispatch.Options{
		Relay:       relay,
		Interval:    interval,
		BatchSize:   cfg.Dispatch.BatchSize,
		ContentType: cfg.Dispatch.ContentType,
	}, nil
}

func mapSource(cfg *config.Config) (string, source.Options) {
	wc := cfg.Workbook
	return strings.TrimSpace(wc.Path), source.Options{
		SenderDomain: strings.TrimSpace(wc.SenderDomain),
		Columns: source.Columns{
			Address:     wc.Columns.Address,
			SourceURL:   wc.Columns.SourceURL,
			Credential:  wc.Columns.Credential,
			DisplayName: wc.Columns.DisplayName,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedules(cfg *config.Config) []schedule.Entry {
	out := make([]schedule.Entry, 0, len(cfg.Schedules))
	for _, s := range cfg.Schedules {
		if s.Disabled {
			continue
		}
		out = append(out, schedule.Entry{Name: s.Name, Group: s.Group, Template: s.Template, Spec: s.Spec})
	}
	return out
}

func mapControl(cfg *config.Config) (control.Config, error) {
	cc := cfg.Control
	out := control.Config{
		Enabled:       cc.Enabled,
		Addr:          cc.ListenAddr(),
		Token:         strings.TrimSpace(cc.Token),
		AllowInsecure: cc.AllowInsecure,
		Metrics:       cc.Metrics,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("control.read_timeout", cc.ReadTimeout, 15*time.Second); err != nil {
		return control.Config{}, err
	}
	if out.WriteTimeout, err = config.ParseDurationOrDefault("control.write_timeout", cc.WriteTimeout, 45*time.Second); err != nil {
		return control.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("control.idle_timeout", cc.IdleTimeout, 2*time.Minute); err != nil {
		return control.Config{}, err
	}
	return out, nil
}

func mapTelegram(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:           strings.TrimSpace(tc.Token),
		OwnerUserIDs:    append([]int64(nil), tc.OwnerUserIDs...),
		NotifyChat:      tc.NotifyChat,
		PollTimeout:     poll,
		NotifyPerMinute: tc.NotifyPerMinute,
	}, nil
}
