// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		input string
		want  string
	}{
		{
			name:  "go template field",
			text:  "Q: {{.Input}}\nA:",
			input: "右肺结节8mm。",
			want:  "Q: 右肺结节8mm。\nA:",
		},
		{
			name:  "legacy placeholder",
			text:  "Q: {processed_input}\nA:",
			input: "左肺结节1.2cm。",
			want:  "Q: 左肺结节1.2cm。\nA:",
		},
		{
			name:  "empty input",
			text:  "[{{.Input}}]",
			input: "",
			want:  "[]",
		},
		{
			name:  "no escaping of markup",
			text:  "{{.Input}}",
			input: "<b>&</b>",
			want:  "<b>&</b>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := New(tt.text)
			require.NoError(t, err)
			got, err := tmpl.Render(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultTemplate(t *testing.T) {
	tmpl, err := New("")
	require.NoError(t, err)

	got, err := tmpl.Render("右肺上叶结节12mm。")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(got, "<|im_start|>system\n"))
	assert.Contains(t, got, SystemPrompt)
	assert.Contains(t, got, "<|im_start|>user\n右肺上叶结节12mm。<|im_end|>\n")
	assert.True(t, strings.HasSuffix(got, "<|im_start|>assistant\n"))
}

func TestNewRejectsBrokenTemplate(t *testing.T) {
	_, err := New("{{.Input")
	assert.Error(t, err)
}

func TestRenderUnknownField(t *testing.T) {
	tmpl, err := New("{{.Missing}}")
	require.NoError(t, err)
	_, err = tmpl.Render("x")
	assert.Error(t, err)
}
