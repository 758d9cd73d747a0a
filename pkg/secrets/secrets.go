package secrets

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrMissing is returned when a required secret binding has no value
// in the secret source. The execution fails deterministically before
// the job process is launched; the child never sees a partially
// populated environment.
type ErrMissing struct {
	Names []string
}

func (e *ErrMissing) Error() string {
	return fmt.Sprintf("missing required secrets: %s", strings.Join(e.Names, ", "))
}

// Source resolves named secret bindings to their values.
type Source interface {
	// Resolve returns a value for every requested name or an
	// *ErrMissing listing the absent ones.
	Resolve(names []string) (map[string]string, error)
}

// EnvSource resolves secrets from the process environment, which is
// how the deployment platform's secret store surfaces them.
type EnvSource struct{}

func (EnvSource) Resolve(names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	var missing []string

	for _, name := range names {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ErrMissing{Names: missing}
	}
	return values, nil
}

// StaticSource serves a fixed map of secrets. Used in tests and for
// bindings loaded once at startup.
type StaticSource map[string]string

func (s StaticSource) Resolve(names []string) (map[string]string, error) {
	values := make(map[string]string, len(names))
	var missing []string

	for _, name := range names {
		v, ok := s[name]
		if !ok || v == "" {
			missing = append(missing, name)
			continue
		}
		values[name] = v
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &ErrMissing{Names: missing}
	}
	return values, nil
}

// Environ renders resolved secrets as KEY=VALUE pairs suitable for
// exec.Cmd.Env.
func Environ(values map[string]string) []string {
	env := make([]string, 0, len(values))
	for k, v := range values {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Names returns just the binding names, safe to log.
func Names(values map[string]string) []string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
