package completion

import "sort"

// KnownExtensions lists provider request fields (OpenAI superset plus vLLM
// sampling, guided decoding, logit processors and KV transfer hints) that the
// target endpoint accepts. Extensions outside this list are still sent; the
// list only feeds configuration warnings.
var KnownExtensions = map[string]struct{}{
	"stop":                          {},
	"user":                          {},
	"logprobs":                      {},
	"top_logprobs":                  {},
	"seed":                          {},
	"response_format":               {},
	"tools":                         {},
	"tool_choice":                   {},
	"parallel_tool_calls":           {},
	"best_of":                       {},
	"use_beam_search":               {},
	"top_k":                         {},
	"min_p":                         {},
	"repetition_penalty":            {},
	"length_penalty":                {},
	"stop_token_ids":                {},
	"include_stop_str_in_output":    {},
	"ignore_eos":                    {},
	"min_tokens":                    {},
	"skip_special_tokens":           {},
	"spaces_between_special_tokens": {},
	"truncate_prompt_tokens":        {},
	"prompt_logprobs":               {},
	"echo":                          {},
	"add_generation_prompt":         {},
	"continue_final_message":        {},
	"add_special_tokens":            {},
	"documents":                     {},
	"chat_template":                 {},
	"chat_template_kwargs":          {},
	"mm_processor_kwargs":           {},
	"guided_json":                   {},
	"guided_regex":                  {},
	"guided_choice":                 {},
	"guided_grammar":                {},
	"structural_tag":                {},
	"guided_decoding_backend":       {},
	"guided_whitespace_pattern":     {},
	"priority":                      {},
	"request_id":                    {},
	"logits_processors":             {},
	"return_tokens_as_token_ids":    {},
	"cache_salt":                    {},
	"kv_transfer_params":            {},
}

// UnknownExtensions returns the sorted keys of ext missing from KnownExtensions.
func UnknownExtensions(ext map[string]any) []string {
	var unknown []string
	for key := range ext {
		if _, ok := KnownExtensions[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}
