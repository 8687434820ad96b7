package backend

import (
	"errors"

	"github.com/platinummonkey/quill/pkg/config"
)

// Diagnostic is served in place of every route when the backend could not
// be initialised
type Diagnostic struct {
	Error   string          `json:"error"`
	Missing []string        `json:"missing,omitempty"`
	Detail  string          `json:"detail,omitempty"`
	Env     map[string]bool `json:"env"`
}

// Diagnose describes why the backend is unavailable. Missing configuration
// is reported by variable name; other failures carry the error text.
func Diagnose(err error) Diagnostic {
	d := Diagnostic{
		Error: "backend unavailable",
		Env:   config.EnvReport(),
	}

	var mce *config.MissingConfigError
	if errors.As(err, &mce) {
		d.Error = "backend not configured"
		d.Missing = append([]string(nil), mce.Vars...)
		return d
	}
	if err != nil {
		d.Detail = err.Error()
	}
	return d
}
