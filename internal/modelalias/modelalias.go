package modelalias

// DefaultModel is the backend model used when a caller asks for "default".
const DefaultModel = "claude-sonnet-4.5"

// Table maps public-facing model names to backend model ids. Unknown names
// resolve to themselves; rejection of truly unknown models is the backend's
// responsibility, not this layer's.
type Table struct {
	entries map[string]string
}

// New builds a table from the given entries. The map is copied, so callers
// may reuse or mutate theirs afterwards.
func New(entries map[string]string) *Table {
	copied := make(map[string]string, len(entries))
	for alias, target := range entries {
		copied[alias] = target
	}
	return &Table{entries: copied}
}

// Resolve returns the backend model id for the requested name, or the
// request unchanged when no alias exists.
func (t *Table) Resolve(requested string) string {
	if target, ok := t.entries[requested]; ok {
		return target
	}
	return requested
}

// Len reports the number of alias entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// OpenAI builds the alias table for the OpenAI-compatible surface.
// It is kept separate from the Anthropic table: the same short name can
// resolve differently depending on the calling convention.
func OpenAI() *Table {
	return New(map[string]string{
		"gpt-4":         "gpt-4.1",
		"gpt-4-turbo":   "gpt-4o",
		"gpt-3.5-turbo": "gpt-4.1",

		"claude-3-haiku":    "claude-haiku-4.5",
		"claude-3-sonnet":   "claude-sonnet-4",
		"claude-3-opus":     "claude-opus-4.5",
		"claude-3.5-sonnet": "claude-sonnet-4.5",

		"default": DefaultModel,
	})
}

// Anthropic builds the alias table for the Anthropic-compatible surface.
func Anthropic() *Table {
	return New(map[string]string{
		"claude-3-haiku-20240307":    "claude-haiku-4.5",
		"claude-3-sonnet-20240229":   "claude-sonnet-4",
		"claude-3-opus-20240229":     "claude-opus-4.5",
		"claude-3-5-sonnet-20241022": "claude-sonnet-4.5",

		"claude-3-haiku":    "claude-haiku-4.5",
		"claude-3-sonnet":   "claude-sonnet-4",
		"claude-3-opus":     "claude-opus-4.5",
		"claude-3.5-sonnet": "claude-sonnet-4.5",

		"claude":  "claude-sonnet-4.5",
		"default": DefaultModel,
	})
}
