package schema

import "strings"

const mentionTrailingPunct = ".,:;!?'\")"

// ParagraphMentions extracts @name tokens that begin the content or begin a
// line (leading whitespace allowed). Mid-line mentions are intentionally not
// addressing: "Hello @bob" does not summon bob, "@bob hello" does. Returned
// names are lower-cased with trailing punctuation stripped. Malformed tokens
// (double @, bare punctuation) are dropped.
func ParagraphMentions(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimLeft(line, " \t")
		if !strings.HasPrefix(line, "@") {
			continue
		}
		token := line[1:]
		if i := strings.IndexAny(token, " \t"); i >= 0 {
			token = token[:i]
		}
		token = strings.TrimRight(token, mentionTrailingPunct)
		if token == "" || strings.HasPrefix(token, "@") {
			continue
		}
		out = append(out, strings.ToLower(token))
	}
	return out
}

// AllMentions extracts every @name token in the content, mid-line included,
// with the same normalization as ParagraphMentions. A token counts wherever
// whitespace (or the start of the content) precedes the @.
func AllMentions(content string) []string {
	var out []string
	for _, field := range strings.Fields(content) {
		if !strings.HasPrefix(field, "@") {
			continue
		}
		token := strings.TrimRight(field[1:], mentionTrailingPunct)
		if token == "" || strings.HasPrefix(token, "@") {
			continue
		}
		out = append(out, strings.ToLower(token))
	}
	return out
}

// HasAnyMention reports whether the content contains an @name token anywhere,
// including mid-line. Used to decide whether an agent-to-agent reply still
// needs auto-addressing.
func HasAnyMention(content string) bool {
	for i, r := range content {
		if r != '@' {
			continue
		}
		if i > 0 {
			prev := content[i-1]
			if prev != ' ' && prev != '\t' && prev != '\n' {
				continue
			}
		}
		rest := content[i+1:]
		if rest == "" || rest[0] == '@' {
			continue
		}
		name := rest
		if j := strings.IndexAny(name, " \t\n"); j >= 0 {
			name = name[:j]
		}
		if strings.TrimRight(name, mentionTrailingPunct) != "" {
			return true
		}
	}
	return false
}

// Mention formats an addressing prefix for the given id.
func Mention(id string) string {
	return "@" + id
}
