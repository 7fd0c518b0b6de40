package pipeline

import (
	"regexp"
	"strings"
)

// codeBlockRe matches a fenced code block, capturing the optional
// language tag and the body. The fence must be followed by a newline;
// inline backtick spans are not blocks.
var codeBlockRe = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)[ \t]*\n(.*?)```")

// CodeBlock is one fenced block extracted from model output.
type CodeBlock struct {
	// Language is the fence's language tag, lowercased. Empty for a
	// bare fence.
	Language string
	// Body is the block content without the fences.
	Body string
}

// ExtractCodeBlocks returns every fenced code block in output, in
// order of appearance.
func ExtractCodeBlocks(output string) []CodeBlock {
	matches := codeBlockRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(m[1]),
			Body:     m[2],
		})
	}
	return blocks
}

// codeOnly concatenates the bodies of all fenced blocks. It returns
// the empty string when the output has no fenced blocks at all; a step
// whose downstream expects code gets exactly what was fenced, nothing
// more.
func codeOnly(output string) string {
	blocks := ExtractCodeBlocks(output)
	if len(blocks) == 0 {
		return ""
	}
	bodies := make([]string, 0, len(blocks))
	for _, b := range blocks {
		bodies = append(bodies, strings.TrimRight(b.Body, "\n"))
	}
	return strings.Join(bodies, "\n\n")
}

// renderTemplate substitutes {{output}} and {{code}} in a custom
// context template. Unknown placeholders are left verbatim so a typo
// is visible in the produced context rather than silently erased.
func renderTemplate(tmpl, output string) string {
	rendered := strings.ReplaceAll(tmpl, "{{output}}", output)
	rendered = strings.ReplaceAll(rendered, "{{code}}", codeOnly(output))
	return rendered
}

// BuildContext derives the next step's input context from a completed
// step's output according to the step's context mode. ContextSummary
// requires a model call and is resolved by the step runner before it
// reaches here; by the time BuildContext sees a summary-mode step the
// output argument is already the summary text.
func BuildContext(step Step, output string) string {
	switch step.ContextMode {
	case ContextCodeOnly:
		return codeOnly(output)
	case ContextCustom:
		return renderTemplate(step.ContextTemplate, output)
	default:
		return output
	}
}
