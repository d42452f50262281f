package config

import (
	"reflect"
	"sort"
	"strings"

	"sheetmail/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and structured
// fields for logging. Tokens are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.redact_addresses", newCfg.Logging.RedactAddresses),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.String("relay.host", strings.TrimSpace(newCfg.Relay.Host)),
			logx.Int("relay.port", newCfg.Relay.Port),
			logx.String("relay.tls", newCfg.Relay.TLS),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		attrs = append(attrs,
			logx.String("dispatch.interval", newCfg.Dispatch.Interval),
			logx.Int("dispatch.batch_size", newCfg.Dispatch.BatchSize),
			logx.String("dispatch.content_type", newCfg.Dispatch.ContentType),
		)
	}

	if oldCfg.Workbook != newCfg.Workbook {
		changed = append(changed, "workbook")
		attrs = append(attrs,
			logx.String("workbook.path", newCfg.Workbook.Path),
			logx.String("workbook.sender_domain", newCfg.Workbook.SenderDomain),
		)
	}

	if oldCfg.Templates != newCfg.Templates {
		changed = append(changed, "templates")
		attrs = append(attrs, logx.String("templates.dir", newCfg.Templates.Dir))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Schedules, newCfg.Schedules) {
		changed = append(changed, "schedules")
		names := make([]string, 0, len(newCfg.Schedules))
		for _, s := range newCfg.Schedules {
			names = append(names, s.Name)
		}
		attrs = append(attrs, logx.Int("schedules.count", len(newCfg.Schedules)), logx.Strings("schedules.names", names))
	}

	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.Bool("control.enabled", newCfg.Control.Enabled),
			logx.String("control.addr", newCfg.Control.ListenAddr()),
			logx.Bool("control.token_set", strings.TrimSpace(newCfg.Control.Token) != ""),
			logx.Bool("control.metrics", newCfg.Control.Metrics),
		)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Enabled != nt.Enabled ||
		ot.Token != nt.Token ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		ot.NotifyChat != nt.NotifyChat ||
		ot.PollTimeout != nt.PollTimeout ||
		ot.NotifyPerMinute != nt.NotifyPerMinute {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(nt.Token) != ""),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.notify_chat_set", nt.NotifyChat != 0),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
