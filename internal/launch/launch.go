// ABOUTME: Launch-argument templating for process-transport servers
// ABOUTME: Expands {name} placeholders against user config and validates required parameters

package launch

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"dockhand/internal/catalog"
	"dockhand/internal/credentials"
)

// ErrWrongTransport is returned when a process-only operation targets a
// stream server
var ErrWrongTransport = errors.New("server is not process transport")

// MissingParamsError reports every required parameter absent from a user
// config, so a caller can surface the full list in one round trip
type MissingParamsError struct {
	ServerID string
	Params   []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("server %s: missing required parameters: %s", e.ServerID, strings.Join(e.Params, ", "))
}

// Definitions is the catalog surface the builder needs
type Definitions interface {
	Get(id string) (catalog.ServerDefinition, error)
}

// Builder produces launch argv arrays for process-transport servers
type Builder struct {
	defs Definitions
}

// NewBuilder builds a Builder over the given definitions
func NewBuilder(defs Definitions) *Builder {
	return &Builder{defs: defs}
}

// BuildCommand returns the full argv for a process server: the fixed
// command followed by the args template with every {key} placeholder whose
// key appears in userConfig substituted. Placeholders for absent keys are
// left verbatim; template authors are trusted internal data, and the
// required-parameter check lives in ValidateConfig, not here. Substitution
// operates on the argv array element by element, never through a shell, so
// argument boundaries survive arbitrary substituted values.
func (b *Builder) BuildCommand(serverID string, userConfig map[string]string) ([]string, error) {
	def, err := b.defs.Get(serverID)
	if err != nil {
		return nil, err
	}
	return Command(def, userConfig)
}

// Command expands a definition's argv directly, for callers that already
// hold the definition. Same transport check and expansion rules as
// BuildCommand.
func Command(def catalog.ServerDefinition, userConfig map[string]string) ([]string, error) {
	if def.Transport != catalog.TransportProcess {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongTransport, def.ID, def.Transport)
	}

	argv := make([]string, 0, len(def.Command)+len(def.ArgsTemplate))
	argv = append(argv, def.Command...)
	for _, tmpl := range def.ArgsTemplate {
		argv = append(argv, expand(tmpl, userConfig))
	}
	return argv, nil
}

// expand substitutes every {key} occurrence whose key is present in config.
// Multiple placeholders per argument are fine; unknown ones stay verbatim.
func expand(tmpl string, config map[string]string) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	out := tmpl
	for key, val := range config {
		out = strings.ReplaceAll(out, "{"+key+"}", val)
	}
	return out
}

// ValidateConfig checks userConfig against the server's config template and
// reports every missing required parameter at once. This is the single
// rejection point for incomplete configuration: callers run it before
// BuildCommand, which stays permissive on purpose.
func (b *Builder) ValidateConfig(serverID string, userConfig map[string]string) error {
	def, err := b.defs.Get(serverID)
	if err != nil {
		return err
	}

	var missing []string
	for name, spec := range def.ConfigTemplate {
		if !spec.Required {
			continue
		}
		if v, ok := userConfig[name]; !ok || v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingParamsError{ServerID: serverID, Params: missing}
	}
	return nil
}

// Env returns the child-process environment entries for a definition's
// parameters that declare an env_var: servers that read configuration from
// the environment instead of argv get the same values either way.
func Env(def catalog.ServerDefinition, userConfig map[string]string) []string {
	var out []string
	names := make([]string, 0, len(def.ConfigTemplate))
	for name := range def.ConfigTemplate {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := def.ConfigTemplate[name]
		if spec.EnvVar == "" {
			continue
		}
		if v, ok := userConfig[name]; ok && v != "" {
			out = append(out, spec.EnvVar+"="+v)
		}
	}
	return out
}

// EnvDefaults returns userConfig with absent parameters filled from their
// declared env_var sources where those are set. Explicit values always win
// over environment defaults.
func EnvDefaults(def catalog.ServerDefinition, userConfig map[string]string, source credentials.Source) map[string]string {
	out := make(map[string]string, len(userConfig))
	for k, v := range userConfig {
		out[k] = v
	}
	for name, spec := range def.ConfigTemplate {
		if spec.EnvVar == "" {
			continue
		}
		if v, ok := out[name]; ok && v != "" {
			continue
		}
		if v, ok := source.Get(spec.EnvVar); ok {
			out[name] = v
		}
	}
	return out
}
