package chat

import (
	"strings"

	"github.com/entrepeneur4lyf/kbchat/internal/attachment"
	"github.com/entrepeneur4lyf/kbchat/internal/conversation"
	"github.com/entrepeneur4lyf/kbchat/internal/llm"
)

// PartMaker turns a loaded attachment into a request part. It reports false
// for types that cannot be sent, which are dropped silently.
type PartMaker interface {
	Part(a attachment.Attachment) (llm.Part, bool)
}

// BuildRequest maps a conversation's log and knowledge base to a backend
// request. System and still-loading messages are not sent, and adjacent
// turns of the same role are merged. Knowledge-base files and the URL list
// ride along on the last user turn.
func BuildRequest(conv conversation.Conversation, history []conversation.Message, parts PartMaker, systemInstruction string) llm.Request {
	req := llm.Request{
		SystemInstruction: systemInstruction,
		URLs:              append([]string(nil), conv.URLs...),
	}

	for _, m := range history {
		if m.Sender == conversation.SenderSystem || m.IsLoading {
			continue
		}
		role := llm.RoleUser
		if m.Sender == conversation.SenderModel {
			role = llm.RoleModel
		}

		var turnParts []llm.Part
		if strings.TrimSpace(m.Text) != "" {
			turnParts = append(turnParts, llm.TextPart(m.Text))
		}
		turnParts = append(turnParts, attachmentParts(m.Attachments, parts)...)
		if len(turnParts) == 0 {
			continue
		}

		if n := len(req.Turns); n > 0 && req.Turns[n-1].Role == role {
			req.Turns[n-1].Parts = append(req.Turns[n-1].Parts, turnParts...)
			continue
		}
		req.Turns = append(req.Turns, llm.Turn{Role: role, Parts: turnParts})
	}

	var grounding []llm.Part
	grounding = append(grounding, attachmentParts(conv.Files, parts)...)
	if len(conv.URLs) > 0 {
		grounding = append(grounding, llm.TextPart("Context URLs:\n- "+strings.Join(conv.URLs, "\n- ")))
	}
	if len(grounding) == 0 {
		return req
	}

	last := -1
	for i := len(req.Turns) - 1; i >= 0; i-- {
		if req.Turns[i].Role == llm.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		req.Turns = append(req.Turns, llm.Turn{Role: llm.RoleUser})
		last = len(req.Turns) - 1
	}
	req.Turns[last].Parts = append(req.Turns[last].Parts, grounding...)
	return req
}

func attachmentParts(atts []attachment.Attachment, parts PartMaker) []llm.Part {
	if parts == nil {
		return nil
	}
	var out []llm.Part
	for _, a := range attachment.LoadedOnly(atts) {
		if p, ok := parts.Part(a); ok {
			out = append(out, p)
		}
	}
	return out
}
