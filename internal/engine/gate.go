package engine

import (
	"strings"

	"github.com/flitsinc/agent-worlds/internal/eventbus"
	"github.com/flitsinc/agent-worlds/internal/schema"
	"github.com/flitsinc/agent-worlds/internal/world"
)

// ShouldRespond decides whether a single agent replies to a dequeued message.
//
// System messages never get replies, an agent never answers itself, and an
// agent that has used up the world's turn budget stays quiet until a human
// or world message resets its counter. A message that mentions any known
// member, anywhere in its content, is addressed rather than broadcast: only
// agents named by a paragraph-beginning mention reply, so "Hello @alice,
// how are you?" summons nobody, "@alice hello" summons alice. Mentions of
// unknown names are ignored, so a message with only bogus mentions still
// reaches everyone.
func ShouldRespond(w world.World, members []world.Agent, agent world.Agent, evt eventbus.MessagePayload) bool {
	if schema.ClassifySender(evt.Sender, nil) == schema.SenderClassSystem {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(evt.Sender), agent.ID) {
		return false
	}
	if agent.LLMCallCount >= w.TurnLimit {
		return false
	}

	if len(resolveMentions(members, schema.AllMentions(evt.Content))) == 0 {
		return true
	}
	addressed := resolveMentions(members, schema.ParagraphMentions(evt.Content))
	if _, named := addressed[strings.ToLower(agent.ID)]; named {
		return true
	}
	_, named := addressed[strings.ToLower(agent.Name)]
	return named
}

// resolveMentions filters mention tokens down to those matching a member id
// or name, keyed lower-cased.
func resolveMentions(members []world.Agent, mentions []string) map[string]struct{} {
	if len(mentions) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(members)*2)
	for _, m := range members {
		known[strings.ToLower(m.ID)] = struct{}{}
		if m.Name != "" {
			known[strings.ToLower(m.Name)] = struct{}{}
		}
	}
	resolved := make(map[string]struct{})
	for _, m := range mentions {
		if _, ok := known[m]; ok {
			resolved[m] = struct{}{}
		}
	}
	return resolved
}
