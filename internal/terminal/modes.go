package terminal

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects which command runs inside the container.
type Mode string

const (
	// ModeShell runs an interactive login shell. It is the default.
	ModeShell Mode = "shell"
	// ModeAgent runs the container's agent command directly.
	ModeAgent Mode = "agent"
)

// ParseMode validates the mode query parameter. An empty value means shell.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeShell:
		return ModeShell, nil
	case ModeAgent:
		return ModeAgent, nil
	}
	return "", fmt.Errorf("unknown terminal mode %q", s)
}

// ModeSpec is the command and extra environment for one mode.
type ModeSpec struct {
	Command []string          `yaml:"command"`
	Env     map[string]string `yaml:"env"`
}

// Modes maps each mode to its spec.
type Modes map[Mode]ModeSpec

// DefaultModes builds the mode table from the configured commands.
func DefaultModes(shellCmd, agentCmd []string) Modes {
	return Modes{
		ModeShell: {Command: shellCmd},
		ModeAgent: {Command: agentCmd},
	}
}

type modesFile struct {
	Modes map[string]ModeSpec `yaml:"modes"`
}

// LoadModes overlays the YAML file at path onto base. A mode in the file
// replaces the command when one is given and merges env keys. Unknown mode
// names are an error.
//
//	modes:
//	  agent:
//	    command: ["claude", "--continue"]
//	    env:
//	      CLAUDE_CONFIG_DIR: /home/developer/.claude
func LoadModes(path string, base Modes) (Modes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read modes file: %w", err)
	}
	var file modesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse modes file %s: %w", path, err)
	}

	out := make(Modes, len(base))
	for m, spec := range base {
		out[m] = spec
	}
	for name, override := range file.Modes {
		mode, err := ParseMode(name)
		if err != nil || name == "" {
			return nil, fmt.Errorf("modes file %s: unknown mode %q", path, name)
		}
		spec := out[mode]
		if len(override.Command) > 0 {
			spec.Command = override.Command
		}
		if len(override.Env) > 0 {
			env := make(map[string]string, len(spec.Env)+len(override.Env))
			for k, v := range spec.Env {
				env[k] = v
			}
			for k, v := range override.Env {
				env[k] = v
			}
			spec.Env = env
		}
		out[mode] = spec
	}
	return out, nil
}

// Resolve returns the spec for mode. ok is false when the mode has no
// command configured.
func (m Modes) Resolve(mode Mode) (ModeSpec, bool) {
	spec, ok := m[mode]
	if !ok || len(spec.Command) == 0 {
		return ModeSpec{}, false
	}
	return spec, true
}

// Environ returns the exec environment: terminal capability variables
// first, then the mode's own variables in key order. Mode variables may
// override the base ones.
func (s ModeSpec) Environ(workdir string) []string {
	base := [][2]string{
		{"TERM", "xterm-256color"},
		{"COLORTERM", "truecolor"},
		{"LANG", "C.UTF-8"},
	}
	if workdir != "" {
		base = append(base, [2]string{"HOME", workdir})
	}

	env := make([]string, 0, len(base)+len(s.Env))
	for _, kv := range base {
		if _, overridden := s.Env[kv[0]]; overridden {
			continue
		}
		env = append(env, kv[0]+"="+kv[1])
	}

	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}
