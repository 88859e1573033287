package schema

import "strings"

// Reserved sender identities on the message bus. Anything else is either a
// member agent of the receiving world or a human.
const (
	SenderWorld  = "world"
	SenderSystem = "system"
)

// SenderClass is the validated origin of an inbound message.
type SenderClass string

const (
	SenderClassHuman  SenderClass = "human"
	SenderClassWorld  SenderClass = "world"
	SenderClassSystem SenderClass = "system"
	SenderClassAgent  SenderClass = "agent"
)

// ClassifySender resolves a raw sender string against the member agent ids of
// the world the message was delivered to. Matching is case-insensitive.
// Unknown senders classify as human.
func ClassifySender(sender string, agentIDs []string) SenderClass {
	switch strings.ToLower(strings.TrimSpace(sender)) {
	case SenderWorld:
		return SenderClassWorld
	case SenderSystem:
		return SenderClassSystem
	}
	for _, id := range agentIDs {
		if strings.EqualFold(id, sender) {
			return SenderClassAgent
		}
	}
	return SenderClassHuman
}

// ResetsTurnCounter returns true for senders that open a new turn window:
// humans and the world itself, but never agents or system notices.
func (c SenderClass) ResetsTurnCounter() bool {
	return c == SenderClassHuman || c == SenderClassWorld
}
