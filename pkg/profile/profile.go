// Package profile loads an optional YAML file of reusable rlimit and
// cgroup-climit presets (--profile FILE). Flags given on the actual
// command line always override a profile value for the same name.
package profile

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sandboxrun/bwrapbox/pkg/errors"
)

// ClimitEntry is one "--climit VAR VALUE" preset.
type ClimitEntry struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// RlimitEntry is one "--rlimit VAR VALUE" preset.
type RlimitEntry struct {
	Name  string `yaml:"name"`
	Value uint64 `yaml:"value"`
}

// Profile is the top-level shape of a --profile YAML file.
type Profile struct {
	Cgroup struct {
		Name      string `yaml:"name,omitempty"`
		Overwrite bool   `yaml:"overwrite,omitempty"`
	} `yaml:"cgroup,omitempty"`

	Climits []ClimitEntry `yaml:"climits,omitempty"`
	Rlimits []RlimitEntry `yaml:"rlimits,omitempty"`

	ElapsedHighUsecs *int64 `yaml:"elapsed_high_usecs,omitempty"`
	ElapsedMaxUsecs  *int64 `yaml:"elapsed_max_usecs,omitempty"`

	SetUID *uint32 `yaml:"setuid,omitempty"`
	SetGID *uint32 `yaml:"setgid,omitempty"`
	Quiet  bool    `yaml:"quiet,omitempty"`
}

// LoadFromFile reads and parses a profile YAML file.
func LoadFromFile(filename string) (*Profile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read profile file", err).WithContext("filename", filename)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.NewValidationError("failed to parse profile YAML", err).WithContext("filename", filename)
	}
	return &p, nil
}

// ToArgs renders the profile back into an equivalent argv prefix, so
// that it can be spliced ahead of the actual command-line argv and
// parsed by the single bwrapargs classifier. CLI flags placed after
// this prefix override the same-named profile setting, because the
// classifier applies later tokens' assignments last.
func (p *Profile) ToArgs() []string {
	var args []string

	if p.Cgroup.Name != "" {
		args = append(args, "--cgroup", p.Cgroup.Name)
	}
	if p.Cgroup.Overwrite {
		args = append(args, "--cgroup-overwrite")
	}
	for _, c := range p.Climits {
		args = append(args, "--climit", c.Name, c.Value)
	}
	for _, r := range p.Rlimits {
		args = append(args, "--rlimit", r.Name, formatUint(r.Value))
	}
	if p.ElapsedHighUsecs != nil {
		args = append(args, "--climit-elapsed-high", formatInt(*p.ElapsedHighUsecs))
	}
	if p.ElapsedMaxUsecs != nil {
		args = append(args, "--climit-elapsed-max", formatInt(*p.ElapsedMaxUsecs))
	}
	if p.SetUID != nil {
		args = append(args, "--setuid", formatUint(uint64(*p.SetUID)))
	}
	if p.SetGID != nil {
		args = append(args, "--setgid", formatUint(uint64(*p.SetGID)))
	}
	if p.Quiet {
		args = append(args, "--quiet")
	}
	return args
}
