package reconstruct

import (
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/MikeSquared-Agency/recall/internal/record"
)

var conversationInPath = regexp.MustCompile(`/chat_conversations/([^/]+)/`)

// put copies a present, non-null value into m.
func put(m map[string]any, key string, v gjson.Result) {
	if v.Exists() && v.Type != gjson.Null {
		m[key] = v.Value()
	}
}

func nonEmptyString(v gjson.Result) (string, bool) {
	if v.Type == gjson.String && v.Str != "" {
		return v.Str, true
	}
	return "", false
}

func firstConversationID(events []gjson.Result) string {
	for _, ev := range events {
		if id, ok := nonEmptyString(ev.Get("conversation_id")); ok {
			return id
		}
	}
	return ""
}

func requestJSON(body []byte) gjson.Result {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}
	}
	return gjson.ParseBytes(body)
}

func claudeMetadata(ex *record.Exchange, f Flow, events []gjson.Result) {
	if m := conversationInPath.FindStringSubmatch(stripQuery(f.Path)); m != nil {
		ex.ConversationID = m[1]
	} else {
		ex.ConversationID = firstConversationID(events)
	}

	req := requestJSON(f.RequestBody)
	if prompt := req.Get("prompt"); prompt.Type == gjson.String {
		um := &record.UserMessage{Content: prompt.Str}
		if id, ok := nonEmptyString(req.Get("turn_message_uuids.human_message_uuid")); ok {
			um.ID = id
		}
		meta := map[string]any{}
		put(meta, "parent_message_uuid", req.Get("parent_message_uuid"))
		if len(meta) > 0 {
			um.Metadata = meta
		}
		ex.UserMessage = um
	}

	for _, ev := range events {
		if ev.Get("type").String() != "message_start" {
			continue
		}
		msg := ev.Get("message")
		meta := map[string]any{"model": "claude"}
		put(meta, "assistant_message_id", msg.Get("id"))
		put(meta, "assistant_uuid", msg.Get("uuid"))
		put(meta, "parent_uuid", msg.Get("parent_uuid"))
		if model, ok := nonEmptyString(msg.Get("model")); ok {
			meta["model"] = model
		}
		ex.AssistantMetadata = meta
		return
	}
}

func chatgptMetadata(ex *record.Exchange, f Flow, events []gjson.Result) {
	ex.ConversationID = firstConversationID(events)
	if ex.ConversationID == "" {
		if id, ok := nonEmptyString(requestJSON(f.RequestBody).Get("conversation_id")); ok {
			ex.ConversationID = id
		}
	}

	meta := map[string]any{}
	for _, ev := range events {
		switch ev.Get("type").String() {
		case "input_message":
			ex.UserMessage = inputMessage(ev.Get("input_message"))
		case "server_ste_metadata":
			sm := map[string]any{}
			for _, key := range []string{"model_slug", "is_first_turn", "fast_convo", "warmup_state", "message_id", "request_id"} {
				put(sm, key, ev.Get("metadata."+key))
			}
			meta["server_metadata"] = sm
		}

		if ev.Get("o").String() == "add" {
			msg := ev.Get("v.message")
			if msg.Get("author.role").String() == "assistant" {
				put(meta, "assistant_message_id", msg.Get("id"))
				put(meta, "model_slug", msg.Get("metadata.model_slug"))
				put(meta, "parent_id", msg.Get("metadata.parent_id"))
			}
		}
	}
	if len(meta) > 0 {
		ex.AssistantMetadata = meta
	}
}

func inputMessage(msg gjson.Result) *record.UserMessage {
	um := &record.UserMessage{
		ID:      msg.Get("id").String(),
		Content: msg.Get("content.parts.0").String(),
	}
	if ct := msg.Get("create_time"); ct.Type == gjson.Number {
		v := ct.Float()
		um.CreateTime = &v
	}
	meta := map[string]any{}
	for _, key := range []string{"request_id", "turn_exchange_id", "parent_id"} {
		put(meta, key, msg.Get("metadata."+key))
	}
	if len(meta) > 0 {
		um.Metadata = meta
	}
	return um
}
