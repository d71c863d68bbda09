package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	settings "github.com/goliatone/go-settings"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

type settingView struct {
	Key        string         `json:"key" yaml:"key"`
	Context    map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Value      any            `json:"value,omitempty" yaml:"value,omitempty"`
	Exists     *bool          `json:"exists,omitempty" yaml:"exists,omitempty"`
	StorageKey string         `json:"storage_key,omitempty" yaml:"storage_key,omitempty"`
}

type overrideView struct {
	Config   string `json:"config" yaml:"config"`
	Setting  string `json:"setting" yaml:"setting"`
	Applied  bool   `json:"applied" yaml:"applied"`
	Reason   string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Previous any    `json:"previous" yaml:"previous"`
	Value    any    `json:"value" yaml:"value"`
}

func validateOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output %q (supported: text, json, yaml)", format)
	}
}

func (c *cli) print(cmd *cobra.Command, data any, text func() string) error {
	out := cmd.OutOrStdout()
	switch c.output {
	case outputJSON:
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	case outputYAML:
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(data); err != nil {
			return err
		}
		return encoder.Close()
	default:
		_, err := fmt.Fprintln(out, text())
		return err
	}
}

func contextArgs(c *settings.Context) map[string]any {
	if c == nil {
		return nil
	}
	return c.Arguments()
}

// formatValue prints strings verbatim and everything else as JSON.
func formatValue(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}

func formatOverrides(views []overrideView) string {
	if len(views) == 0 {
		return "no override rules configured"
	}
	sorted := append([]overrideView(nil), views...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Config < sorted[j].Config })

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONFIG\tSETTING\tAPPLIED\tVALUE")
	for _, view := range sorted {
		status := "yes"
		if !view.Applied {
			status = "no (" + view.Reason + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", view.Config, view.Setting, status, formatValue(view.Value))
	}
	_ = w.Flush()
	return strings.TrimRight(b.String(), "\n")
}
