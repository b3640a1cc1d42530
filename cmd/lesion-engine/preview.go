// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/lesion-engine/internal/measure"
	"github.com/pdiddy/lesion-engine/internal/preprocess"
	"github.com/pdiddy/lesion-engine/internal/prompt"
)

var previewCmd = &cobra.Command{
	Use:   "preview [text]",
	Short: "Show how a findings text is preprocessed and measured",
	Long: `Preview runs one findings text through every preprocessing step and the
rule-based measurement extractor, without a model. The text is read from
stdin when no argument is given.

Use --prompt to also print the prompt a model would receive.`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().Bool("prompt", false, "print the rendered model prompt")
	previewCmd.Flags().Bool("json", false, "output stages as JSON")

	rootCmd.AddCommand(previewCmd)
}

type previewOutput struct {
	Raw       string   `json:"raw"`
	Formatted string   `json:"formatted"`
	Expanded  string   `json:"expanded"`
	Stripped  string   `json:"stripped"`
	Filtered  string   `json:"filtered"`
	ValueMM   *float64 `json:"value_mm"`
	Prompt    string   `json:"prompt,omitempty"`
}

func runPreview(cmd *cobra.Command, args []string) error {
	raw := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		raw = strings.TrimRight(string(data), "\n")
	}

	st := preprocess.Trace(raw)
	out := previewOutput{
		Raw:       raw,
		Formatted: st.Formatted,
		Expanded:  st.Expanded,
		Stripped:  st.Stripped,
		Filtered:  st.Filtered,
	}

	ex := measure.Extractor{AmbiguousUpperBound: v.GetFloat64("extraction.ambiguous_upper_bound")}
	if mm, ok := ex.Extract(st.Filtered, raw); ok {
		out.ValueMM = &mm
	}

	if showPrompt, _ := cmd.Flags().GetBool("prompt"); showPrompt {
		tmpl, err := prompt.New(v.GetString("generation.prompt_template"))
		if err != nil {
			return err
		}
		if out.Prompt, err = tmpl.Render(st.Filtered); err != nil {
			return err
		}
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(out)
	}

	fmt.Fprintf(os.Stdout, "%-10s %s\n", "raw:", out.Raw)
	fmt.Fprintf(os.Stdout, "%-10s %s\n", "formatted:", out.Formatted)
	fmt.Fprintf(os.Stdout, "%-10s %s\n", "expanded:", out.Expanded)
	fmt.Fprintf(os.Stdout, "%-10s %s\n", "stripped:", out.Stripped)
	fmt.Fprintf(os.Stdout, "%-10s %s\n", "filtered:", out.Filtered)
	if out.ValueMM != nil {
		fmt.Fprintf(os.Stdout, "%-10s %s mm\n", "value:", measure.Format(*out.ValueMM))
	} else {
		fmt.Fprintf(os.Stdout, "%-10s no measurement\n", "value:")
	}
	if out.Prompt != "" {
		fmt.Fprintf(os.Stdout, "\n--- prompt ---\n%s\n", out.Prompt)
	}
	return nil
}
