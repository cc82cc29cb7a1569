package reconstruct

import (
	"strings"

	"github.com/tidwall/gjson"
)

// fragmentRule extracts text fragments from one event object. An exclusive
// rule only runs when no earlier rule produced a fragment for the same event.
type fragmentRule struct {
	name      string
	exclusive bool
	extract   func(ev gjson.Result) []string
}

// deltaRules cover token and content-block streaming, in priority order.
var deltaRules = []fragmentRule{
	{name: "block_start", extract: blockStartText},
	{name: "text_delta", extract: textDeltaText},
	{name: "completion", extract: stringAt("completion")},
	{name: "delta_text", exclusive: true, extract: stringAt("delta.text")},
	{name: "choices", extract: choicesText},
	{name: "text", exclusive: true, extract: stringAt("text")},
	{name: "content", exclusive: true, extract: stringAt("content")},
}

func applyRules(rules []fragmentRule, ev gjson.Result) []string {
	if !ev.IsObject() {
		return nil
	}
	var out []string
	for _, r := range rules {
		if r.exclusive && len(out) > 0 {
			continue
		}
		out = append(out, r.extract(ev)...)
	}
	return out
}

func deltaFragments(ev gjson.Result) []string {
	return applyRules(deltaRules, ev)
}

func stringAt(path string) func(gjson.Result) []string {
	return func(ev gjson.Result) []string {
		if v := ev.Get(path); v.Type == gjson.String {
			return []string{v.Str}
		}
		return nil
	}
}

func blockStartText(ev gjson.Result) []string {
	if ev.Get("type").String() != "content_block_start" {
		return nil
	}
	return stringAt("content_block.text")(ev)
}

func textDeltaText(ev gjson.Result) []string {
	if ev.Get("type").String() != "content_block_delta" || ev.Get("delta.type").String() != "text_delta" {
		return nil
	}
	return stringAt("delta.text")(ev)
}

func choicesText(ev gjson.Result) []string {
	choices := ev.Get("choices")
	if !choices.IsArray() {
		return nil
	}
	var out []string
	for _, c := range choices.Array() {
		if !c.IsObject() {
			continue
		}
		out = append(out, stringAt("delta.content")(c)...)
		out = append(out, stringAt("text")(c)...)
	}
	return out
}

// partsSuffix is the patch path of a message's first content part.
const partsSuffix = "/message/content/parts/0"

// patchFragments collects append operations on the first content part. The
// operation may be the event itself or sit in the event's "v" list, which is
// also where an {"o":"patch"} wrapper keeps its operations.
func patchFragments(ev gjson.Result) []string {
	if !ev.IsObject() {
		return nil
	}
	out := appendOp(ev)
	if ops := ev.Get("v"); ops.IsArray() {
		for _, op := range ops.Array() {
			out = append(out, appendOp(op)...)
		}
	}
	return out
}

func appendOp(op gjson.Result) []string {
	if !op.IsObject() || op.Get("o").String() != "append" {
		return nil
	}
	if !strings.HasSuffix(op.Get("p").String(), partsSuffix) {
		return nil
	}
	return stringAt("v")(op)
}
