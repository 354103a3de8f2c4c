// Package resolver produces the regeneration options for one region candidate.
package resolver

import (
	"strings"

	"github.com/menta2k/image-detailer/pkg/types"
)

// Resolve returns the options for the candidate at index. In multi-candidate
// mode they come from module.Candidates[index] and ok is false when no entry
// exists for that index; otherwise the module's base options are used.
//
// The PromptMarker in the prompt is replaced by currentPrompt, and in the
// negative prompt by currentNegative. The module is never modified.
func Resolve(module types.RegionModule, index int, currentPrompt, currentNegative string) (types.Options, bool) {
	var opts types.Options
	if module.Multiple() {
		if index < 0 || index >= len(module.Candidates) {
			return types.Options{}, false
		}
		opts = module.Candidates[index]
	} else {
		opts = module.Options
	}

	opts.Prompt = Substitute(opts.Prompt, currentPrompt)
	opts.NegativePrompt = Substitute(opts.NegativePrompt, currentNegative)
	opts.Mask = nil
	return opts, true
}

// Substitute replaces every PromptMarker in template with current
func Substitute(template, current string) string {
	if !strings.Contains(template, types.PromptMarker) {
		return template
	}
	return strings.ReplaceAll(template, types.PromptMarker, current)
}
