package usecase

import (
	"testing"

	"github.com/stretchr/testify/require"

	"grindset-agent/internal/domain"
)

func TestExtractFenced_ParsesFencedJSON(t *testing.T) {
	out, ok := extractFenced("```json\n{\"tools_needed\":[\"tasks\"],\"response\":\"ok\"}\n```").(parsedOutput)
	require.True(t, ok)
	require.Equal(t, []string{"tasks"}, out.strList("tools_needed"))
	require.Equal(t, "ok", out.str("response"))
}

func TestExtractFenced_Variants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "bare object", raw: `{"response":"ok"}`},
		{name: "untagged fence", raw: "```\n{\"response\":\"ok\"}\n```"},
		{name: "upper case tag", raw: "```JSON {\"response\":\"ok\"} ```"},
		{name: "prose around fence", raw: "Here you go:\n```json\n{\"response\":\"ok\"}\n```\nThanks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, ok := extractFenced(tc.raw).(parsedOutput)
			require.True(t, ok)
			require.Equal(t, "ok", out.str("response"))
		})
	}
}

func TestExtractFenced_FallsBack(t *testing.T) {
	for _, raw := range []string{"just a sentence", "null", `["tasks"]`, "```json\n{broken\n```"} {
		out, ok := extractFenced(raw).(fallbackOutput)
		require.True(t, ok, "raw=%q", raw)
		require.Equal(t, raw, out.rawText())
	}
}

func TestExtractBraced(t *testing.T) {
	out, ok := extractBraced("Sure! {\"feasible\": false, \"reason\": \"Too short\"} Hope it helps.").(parsedOutput)
	require.True(t, ok)
	feasible, ok := out.boolean("feasible")
	require.True(t, ok)
	require.False(t, feasible)
	require.Equal(t, "Too short", out.str("reason"))

	_, ok = extractBraced("no braces here").(fallbackOutput)
	require.True(t, ok)

	_, ok = extractBraced("} backwards {").(fallbackOutput)
	require.True(t, ok)
}

func TestParsedOutput_TolerantFields(t *testing.T) {
	out, ok := extractFenced(`{"tools_needed":["goals",3,null," search "],"response":42,"flag":"yes"}`).(parsedOutput)
	require.True(t, ok)
	require.Equal(t, []string{"goals", "search"}, out.strList("tools_needed"))
	require.Equal(t, "", out.str("response"))
	require.Equal(t, "", out.str("missing"))
	_, ok = out.boolean("flag")
	require.False(t, ok)
	require.Nil(t, out.strList("response"))
}

func TestReadIntent(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		tools []domain.ToolName
		draft string
	}{
		{
			name:  "fenced",
			raw:   "```json\n{\"tools_needed\":[\"tasks\"],\"response\":\"ok\"}\n```",
			tools: []domain.ToolName{domain.ToolTasks},
			draft: "ok",
		},
		{
			name:  "plain text",
			raw:   "just a sentence",
			draft: "just a sentence",
		},
		{
			name:  "unknown and duplicate tools",
			raw:   `{"tools_needed":["search","weather","TASKS","search"],"response":"one sec"}`,
			tools: []domain.ToolName{domain.ToolTasks, domain.ToolSearch},
			draft: "one sec",
		},
		{
			name:  "tools not an array",
			raw:   `{"tools_needed":"tasks","response":"hello"}`,
			draft: "hello",
		},
		{
			name:  "blank response uses raw",
			raw:   `{"tools_needed":[],"response":"  "}`,
			draft: `{"tools_needed":[],"response":"  "}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := readIntent(tc.raw)
			require.Equal(t, tc.tools, got.tools)
			require.Equal(t, tc.draft, got.draft)
		})
	}
}
