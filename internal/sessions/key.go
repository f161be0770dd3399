package sessions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/aide/pkg/models"
)

// ErrInvalidKey is returned for strings that do not match the session key
// grammar.
var ErrInvalidKey = errors.New("sessions: invalid session key")

// Key is a parsed canonical session key.
//
// Grammar:
//
//	key ::= "agent:" agentId ":" ( "main" | channel ( ":direct:" peerId | ":" peerId ) )
//
// Both the 3-segment form (agent:dev:main) and the 4-segment forms
// (agent:dev:telegram:12345, agent:dev:telegram:direct:12345) are accepted;
// the ":direct:" marker is dropped during normalization.
type Key struct {
	AgentID string
	Channel models.ChannelType
	PeerID  string
	Main    bool
}

// BuildKey constructs a canonical session key for a peer conversation.
func BuildKey(agentID string, channel models.ChannelType, peerID string) string {
	return fmt.Sprintf("agent:%s:%s:%s", agentID, channel, peerID)
}

// MainKey constructs the shared-channel key for an agent.
func MainKey(agentID string) string {
	return fmt.Sprintf("agent:%s:main", agentID)
}

// ParseKey parses and normalizes a session key.
func ParseKey(raw string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 3 || parts[0] != "agent" || parts[1] == "" {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}

	key := Key{AgentID: parts[1]}
	rest := parts[2:]

	switch {
	case len(rest) == 1 && rest[0] == "main":
		key.Main = true
	case len(rest) == 2 && rest[0] != "" && rest[1] != "":
		key.Channel = models.ChannelType(rest[0])
		key.PeerID = rest[1]
	case len(rest) == 3 && rest[1] == "direct" && rest[0] != "" && rest[2] != "":
		key.Channel = models.ChannelType(rest[0])
		key.PeerID = rest[2]
	default:
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return key, nil
}

// String renders the canonical form of the key.
func (k Key) String() string {
	if k.Main {
		return MainKey(k.AgentID)
	}
	return BuildKey(k.AgentID, k.Channel, k.PeerID)
}

// Normalize parses raw and returns its canonical form, collapsing the
// ":direct:" marker. Invalid keys are returned unchanged with an error.
func Normalize(raw string) (string, error) {
	key, err := ParseKey(raw)
	if err != nil {
		return raw, err
	}
	return key.String(), nil
}

// Sanitize converts a session key into a filesystem-safe transcript name.
// Colons and path separators become underscores.
func Sanitize(key string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", "..", "_")
	return replacer.Replace(key)
}
