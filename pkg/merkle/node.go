// Package merkle is an implementation of a Merkle DAG of coach conversations.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Bucket is the hashable content of a node: one message of a conversation.
type Bucket struct {
	// Type is the kind of node, currently always "message".
	Type string `json:"type"`

	// Role is "user" or "assistant".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content"`

	// UserID and UnitPreference are the request context the message was sent with.
	UserID         string `json:"user_id,omitempty"`
	UnitPreference string `json:"unit_preference,omitempty"`

	// ImageCount is the number of images sent with the request a reply answers.
	ImageCount int `json:"image_count,omitempty"`

	// Partial marks an assistant reply whose stream failed part way.
	Partial bool `json:"partial,omitempty"`
}

// Node represents a single content-addressed node in a Merkle DAG
type Node struct {
	// Hash is the content-addressed identifier (SHA-256, hex-encoded)
	Hash string `json:"hash"`

	// ParentHash links to the previous node hash.
	// This will be nil for root nodes.
	ParentHash *string `json:"parent_hash"`

	// Content is the hashable content for the node
	Content Bucket `json:"content"`
}

// input is the canonical form hashed for a node.
type input struct {
	Content Bucket `json:"content"`
	Parent  string `json:"parent,omitempty"`
}

// NewNode creates a new node with the computed hash for the provided content
func NewNode(content Bucket, parent *Node) *Node {
	n := &Node{
		Content: content,
	}

	if parent != nil {
		hash := parent.Hash
		n.ParentHash = &hash
	}

	n.Hash = n.computeHash()
	return n
}

// VerifyHash reports whether the node's hash matches its content and parent.
// Nodes received from another process are checked before they are stored.
func VerifyHash(n *Node) bool {
	return n != nil && n.Hash == n.computeHash()
}

// computeHash calculates the content-addressed hash for a node
func (n *Node) computeHash() string {
	i := &input{
		Content: n.Content,
	}

	if n.ParentHash != nil {
		i.Parent = *n.ParentHash
	}

	// Canonical JSON encoding for deterministic hashing
	data, err := json.Marshal(i)
	if err != nil {
		panic("failed to marshal hash input: " + err.Error())
	}

	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
