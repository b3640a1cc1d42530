// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prompt renders the model prompt around preprocessed findings text.
package prompt

import (
	"fmt"
	"strings"
	"text/template"
)

// legacyPlaceholder is the placeholder used by older prompt files.
const legacyPlaceholder = "{processed_input}"

// SystemPrompt instructs the fine-tuned model to answer with the maximum
// lung lesion diameter in millimeters and nothing else.
const SystemPrompt = `你是医疗信息提取助手。我需要你从影像表现的报告中，找到肺部病灶（包括肺上叶中叶下叶的结节、磨玻璃结节、团块或局灶影，不包括空洞，不包括纵隔肿物）的最大直径，可能是“长径”、“直径”、“大小”中的最大一项。如果有多个病灶，只需要最长的。返回的结果以mm为单位，如果是cm你需要进行转换，1cm=10mm。忽略CT值（HU）。报告中其他部位和系统（如肝，肾，脾）的病灶请无视。如果报告中没有肺部病灶，或者没有具体的尺寸信息，请输出0。你的输出结果只需要输出最终的数字，不需要任何的单位或者前置描述。`

// Default is the ChatML template the models were fine-tuned on.
const Default = "<|im_start|>system\n" + SystemPrompt + "<|im_end|>\n" +
	"<|im_start|>user\n{{.Input}}<|im_end|>\n" +
	"<|im_start|>assistant\n"

// Template is a parsed prompt template. It is safe for concurrent use.
type Template struct {
	tmpl *template.Template
}

// New parses text as a prompt template. The preprocessed input is available
// as {{.Input}}; the legacy {processed_input} placeholder is rewritten to it.
// An empty text selects Default.
func New(text string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		text = Default
	}
	text = strings.ReplaceAll(text, legacyPlaceholder, "{{.Input}}")

	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing prompt template: %w", err)
	}
	return &Template{tmpl: tmpl}, nil
}

// Render substitutes input into the template.
func (t *Template) Render(input string) (string, error) {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, struct{ Input string }{input}); err != nil {
		return "", fmt.Errorf("rendering prompt: %w", err)
	}
	return b.String(), nil
}
