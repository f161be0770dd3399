package agent

import (
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/aide/pkg/models"
)

// Decision classifies a user's reply to a pending confirmation.
type Decision int

const (
	// DecisionNone means the reply was neither a confirmation nor a
	// cancellation; the pending call is dropped and the reply is treated
	// as a fresh message.
	DecisionNone Decision = iota
	DecisionConfirm
	DecisionCancel
)

// DefaultConfirmTTL is how long a confirmation request stays valid.
const DefaultConfirmTTL = 5 * time.Minute

var (
	confirmLexemes = []string{"yes", "是", "确认", "ok", "go", "confirm"}
	cancelLexemes  = []string{"no", "取消", "cancel", "stop", "算了"}
)

// PendingConfirmation is a tool call waiting for the user's go-ahead.
type PendingConfirmation struct {
	Call      models.ToolCall
	CreatedAt time.Time
}

// ConfirmationGate tracks at most one pending confirmation per session.
// A new request replaces the previous one; expired entries act as absent.
type ConfirmationGate struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]*PendingConfirmation
}

// NewConfirmationGate creates a gate with the given TTL (0 means the
// default of five minutes).
func NewConfirmationGate(ttl time.Duration) *ConfirmationGate {
	if ttl <= 0 {
		ttl = DefaultConfirmTTL
	}
	return &ConfirmationGate{
		ttl:     ttl,
		pending: make(map[string]*PendingConfirmation),
	}
}

// Request parks a tool call awaiting confirmation for the session.
func (g *ConfirmationGate) Request(sessionKey string, call models.ToolCall) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[sessionKey] = &PendingConfirmation{Call: call, CreatedAt: time.Now()}
}

// Take returns and clears the session's pending confirmation, if any
// unexpired one exists. The caller decides what to do with it based on the
// user's reply; either way the gate forgets it.
func (g *ConfirmationGate) Take(sessionKey string) (*PendingConfirmation, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, ok := g.pending[sessionKey]
	if !ok {
		return nil, false
	}
	delete(g.pending, sessionKey)
	if time.Since(p.CreatedAt) > g.ttl {
		return nil, false
	}
	return p, true
}

// Interpret classifies a user reply against the confirmation lexicons.
// Matching is exact on the trimmed, lowercased reply with trailing
// punctuation stripped; anything longer is a fresh message, not a decision.
func Interpret(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.TrimRight(normalized, ".!。！，,")

	for _, lex := range confirmLexemes {
		if normalized == lex {
			return DecisionConfirm
		}
	}
	for _, lex := range cancelLexemes {
		if normalized == lex {
			return DecisionCancel
		}
	}
	return DecisionNone
}
