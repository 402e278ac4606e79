package merkle

import (
	"context"
	"fmt"

	"github.com/papercomputeco/repcoach/pkg/llm"
)

// StoreTurn stores a request-reply pair as a chain of message nodes and
// returns the hash of the reply (head) node.
//
// Each request message becomes a node linked to the previous one. Sending the
// same history again produces the same hashes, so only new messages are
// written; a different reply to the same history branches from the shared
// prefix. The image count is kept on the reply node so that request nodes
// hash the same in every later turn that repeats them.
func StoreTurn(ctx context.Context, storer Storer, turn *llm.ConversationTurn) (string, error) {
	if turn == nil || turn.Request == nil {
		return "", fmt.Errorf("incomplete conversation turn")
	}
	req := turn.Request

	var parent *Node
	for _, msg := range req.Messages {
		bucket := Bucket{
			Type:           "message",
			Role:           msg.Role,
			Content:        msg.Content,
			UserID:         req.UserID,
			UnitPreference: string(req.UnitPreference),
		}

		node := NewNode(bucket, parent)
		if _, err := storer.Put(ctx, node); err != nil {
			return "", fmt.Errorf("storing message node: %w", err)
		}
		parent = node
	}

	reply := NewNode(Bucket{
		Type:           "message",
		Role:           llm.RoleAssistant,
		Content:        turn.Reply.Content,
		UserID:         req.UserID,
		UnitPreference: string(req.UnitPreference),
		ImageCount:     len(req.Images),
		Partial:        turn.Partial,
	}, parent)
	if _, err := storer.Put(ctx, reply); err != nil {
		return "", fmt.Errorf("storing reply node: %w", err)
	}

	return reply.Hash, nil
}
