package queue

import "context"

// maxThreadDepth caps reply-chain walks. Reply pointers come from clients and
// are not guaranteed acyclic.
const maxThreadDepth = 25

// Thread walks the reply chain starting at the given app-level message id,
// returning the chain oldest-first with the named message last. The walk
// stops at the depth cap, at a missing ancestor, or on a revisited id.
func (s *Store) Thread(ctx context.Context, messageID string) ([]Message, error) {
	var out []Message
	visited := map[string]struct{}{}
	current := messageID
	for depth := 0; depth < maxThreadDepth && current != ""; depth++ {
		if _, seen := visited[current]; seen {
			break
		}
		visited[current] = struct{}{}

		msg, err := s.GetByMessageID(ctx, current)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			break
		}
		out = append(out, *msg)
		current = msg.ReplyTo
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
