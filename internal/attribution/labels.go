package attribution

import (
	"os"
	"strings"

	"codeberg.org/mutker/powerdash/internal/errors"
	"gopkg.in/yaml.v3"
)

// Rule maps process names to a display label. Exactly one of Prefix or
// Contains is set.
type Rule struct {
	Prefix   string `yaml:"prefix"`
	Contains string `yaml:"contains"`
	Label    string `yaml:"label"`
}

func (r Rule) matches(name string) bool {
	switch {
	case r.Prefix != "":
		return strings.HasPrefix(name, r.Prefix)
	case r.Contains != "":
		return strings.Contains(name, r.Contains)
	default:
		return false
	}
}

var builtinRules = []Rule{
	{Prefix: "com.apple.WebKit", Label: "Safari web content"},
	{Prefix: "Google Chrome Helper", Label: "Chrome helper"},
	{Prefix: "Code Helper", Label: "VS Code helper"},
	{Prefix: "Slack Helper", Label: "Slack helper"},
	{Prefix: "mds_stores", Label: "Spotlight index"},
	{Prefix: "mdworker", Label: "Spotlight worker"},
	{Prefix: "mds", Label: "Spotlight"},
	{Prefix: "photoanalysisd", Label: "Photos analysis"},
	{Prefix: "backupd", Label: "Time Machine"},
	{Prefix: "bird", Label: "iCloud Drive"},
	{Prefix: "cloudd", Label: "iCloud"},
	{Prefix: "softwareupdated", Label: "Software Update"},
	{Prefix: "coreaudiod", Label: "Core Audio"},
	{Prefix: "bluetoothd", Label: "Bluetooth"},
	{Prefix: "WindowServer", Label: "Window server"},
	{Prefix: "kernel_task", Label: "Kernel"},
	{Prefix: "gopls", Label: "Go language server"},
	{Prefix: "rust-analyzer", Label: "Rust language server"},
	{Contains: "tsserver", Label: "TypeScript server"},
	{Contains: "language-server", Label: "Language server"},
}

// Labeler turns process names into human labels. Labels are for display
// only and never feed ranking or anomaly detection.
type Labeler struct {
	rules []Rule
}

// NewLabeler returns a labeler consulting overrides before the built-in
// table.
func NewLabeler(overrides []Rule) *Labeler {
	rules := make([]Rule, 0, len(overrides)+len(builtinRules))
	rules = append(rules, overrides...)
	rules = append(rules, builtinRules...)

	return &Labeler{rules: rules}
}

// Label returns the label for name, or name itself when no rule matches.
func (l *Labeler) Label(name string) string {
	for _, r := range l.rules {
		if r.matches(name) {
			return r.Label
		}
	}

	return name
}

type labelsFile struct {
	Labels []Rule `yaml:"labels"`
}

// LoadLabels reads override rules from a YAML file of the form
//
//	labels:
//	  - prefix: "Dropbox"
//	    label: "Dropbox sync"
func LoadLabels(path string) ([]Rule, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrReadLabels, err)
	}

	var f labelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errFactory.Wrap(ErrParseLabels, err)
	}

	for i, r := range f.Labels {
		if r.Label == "" || (r.Prefix == "") == (r.Contains == "") {
			return nil, errFactory.WithData(ErrParseLabels, i)
		}
	}

	return f.Labels, nil
}
