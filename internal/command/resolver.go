package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Logical program names understood by the resolver.
const (
	Shell  = "shell"
	Claude = "claude"
	Codex  = "codex"
	Gemini = "gemini"
)

// Candidate is one concrete executable to try.
type Candidate struct {
	Command string   `yaml:"command" json:"command"`
	Args    []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// String renders the candidate as a command line for logs and errors.
func (c Candidate) String() string {
	if len(c.Args) == 0 {
		return c.Command
	}
	return c.Command + " " + strings.Join(c.Args, " ")
}

// windowsSuffixes lists the launcher suffixes npm-style installs produce on Windows.
var windowsSuffixes = []string{".cmd", ".exe", ""}

// Candidates maps a logical program name to an ordered candidate list for goos.
func Candidates(name, goos string) []Candidate {
	name = strings.TrimSpace(name)
	if name == "" || name == Shell {
		return shellCandidates(goos)
	}

	if goos != "windows" {
		return []Candidate{{Command: name}}
	}

	// An explicit suffix is taken at face value.
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".exe") || strings.HasSuffix(lower, ".cmd") || strings.HasSuffix(lower, ".bat") {
		return []Candidate{{Command: name}}
	}

	out := make([]Candidate, 0, len(windowsSuffixes))
	for _, suffix := range windowsSuffixes {
		out = append(out, Candidate{Command: name + suffix})
	}
	return out
}

func shellCandidates(goos string) []Candidate {
	switch goos {
	case "windows":
		return []Candidate{
			{Command: "pwsh.exe", Args: []string{"-NoLogo"}},
			{Command: "powershell.exe", Args: []string{"-NoLogo"}},
			{Command: "cmd.exe"},
		}
	case "darwin":
		return []Candidate{
			{Command: "zsh", Args: []string{"-l"}},
			{Command: "bash", Args: []string{"-l"}},
			{Command: "sh"},
		}
	default:
		return []Candidate{
			{Command: "bash", Args: []string{"-l"}},
			{Command: "zsh", Args: []string{"-l"}},
			{Command: "sh"},
		}
	}
}

// Resolver layers operator overrides on top of Candidates.
type Resolver struct {
	goos      string
	shell     string
	overrides map[string][]Candidate
}

// NewResolver creates a resolver for goos. A non-empty shell (usually $SHELL)
// is tried before the built-in shell list.
func NewResolver(goos, shell string) *Resolver {
	return &Resolver{
		goos:      goos,
		shell:     shell,
		overrides: make(map[string][]Candidate),
	}
}

// Override registers candidates tried before the built-in ones for name.
func (r *Resolver) Override(name string, candidates ...Candidate) {
	r.overrides[name] = append(r.overrides[name], candidates...)
}

// LoadFile reads a YAML document of the form
//
//	claude:
//	  - command: /opt/claude/bin/claude
//	    args: [--verbose]
//
// and registers each entry as an override.
func (r *Resolver) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read programs file: %w", err)
	}

	var programs map[string][]Candidate
	if err := yaml.Unmarshal(data, &programs); err != nil {
		return fmt.Errorf("failed to parse programs file %s: %w", path, err)
	}

	for name, candidates := range programs {
		for _, c := range candidates {
			if strings.TrimSpace(c.Command) == "" {
				return fmt.Errorf("programs file %s: empty command for %q", path, name)
			}
		}
		r.Override(name, candidates...)
	}
	return nil
}

// Resolve returns the ordered, de-duplicated candidate list for name.
func (r *Resolver) Resolve(name string) []Candidate {
	if name == "" {
		name = Shell
	}

	var out []Candidate
	out = append(out, r.overrides[name]...)
	if name == Shell && r.shell != "" {
		out = append(out, Candidate{Command: r.shell, Args: loginArgs(r.goos)})
	}
	out = append(out, Candidates(name, r.goos)...)

	return dedupe(out)
}

func loginArgs(goos string) []string {
	if goos == "windows" {
		return nil
	}
	return []string{"-l"}
}

func dedupe(in []Candidate) []Candidate {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, c := range in {
		key := c.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
