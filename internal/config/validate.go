package config

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their config key rather than the Go field name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints, duration syntax and cross-field rules.
// Schedule specs are checked by the schedule service, which owns their syntax.
func (c *Config) Validate() error {
	var errs []error
	if err := structValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q check", configPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	durs := c.durationFields()
	keys := make([]string, 0, len(durs))
	for k := range durs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := ParseDurationField(k, durs[k]); err != nil {
			errs = append(errs, err)
		}
	}

	seen := map[string]bool{}
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name != "" && seen[name] {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
	}

	if c.Control.Enabled && strings.TrimSpace(c.Control.Token) == "" && !c.Control.AllowInsecure && !IsLoopbackAddr(c.Control.ListenAddr()) {
		errs = append(errs, fmt.Errorf("control.addr %q is not loopback: set control.token or control.allow_insecure", c.Control.ListenAddr()))
	}
	return errors.Join(errs...)
}

// configPath turns "Config.relay.port" into "relay.port".
func configPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

const DefaultControlAddr = "127.0.0.1:8080"

func (c ControlConfig) ListenAddr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultControlAddr
}

// IsLoopbackAddr reports whether host:port binds only to the loopback interface.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
