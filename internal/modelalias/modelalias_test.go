package modelalias

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_KnownAliases(t *testing.T) {
	openai := OpenAI()

	testCases := []struct {
		requested string
		want      string
	}{
		{"gpt-4", "gpt-4.1"},
		{"gpt-4-turbo", "gpt-4o"},
		{"gpt-3.5-turbo", "gpt-4.1"},
		{"claude-3-sonnet", "claude-sonnet-4"},
		{"default", DefaultModel},
	}

	for _, tc := range testCases {
		t.Run(tc.requested, func(t *testing.T) {
			assert.Equal(t, tc.want, openai.Resolve(tc.requested))
		})
	}
}

func TestResolve_UnknownPassesThrough(t *testing.T) {
	anthropic := Anthropic()
	assert.Equal(t, "some-future-model", anthropic.Resolve("some-future-model"))
	assert.Equal(t, "", anthropic.Resolve(""))
}

// Resolution is a single hop: resolving an already-resolved name must not
// change it again.
func TestResolve_SingleHop(t *testing.T) {
	for _, table := range []*Table{OpenAI(), Anthropic()} {
		for _, requested := range []string{"gpt-4", "claude-3-opus", "claude", "claude-3-haiku-20240307"} {
			resolved := table.Resolve(requested)
			assert.Equal(t, resolved, table.Resolve(resolved),
				"resolving %q twice drifted", requested)
		}
	}
}

func TestAnthropic_DatedAndShortAliasesAgree(t *testing.T) {
	anthropic := Anthropic()
	assert.Equal(t, anthropic.Resolve("claude-3-haiku"), anthropic.Resolve("claude-3-haiku-20240307"))
	assert.Equal(t, DefaultModel, anthropic.Resolve("claude"))
}

func TestNew_CopiesEntries(t *testing.T) {
	entries := map[string]string{"a": "b"}
	table := New(entries)
	entries["a"] = "mutated"
	assert.Equal(t, "b", table.Resolve("a"))
	assert.Equal(t, 1, table.Len())
}
