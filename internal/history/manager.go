package history

import (
	"strings"
	"sync"

	"github.com/ent0n29/xianwen/internal/chat"
)

// DefaultMaxTurns bounds a conversation when no explicit limit is configured.
const DefaultMaxTurns = 20

// DefaultConversationID is used when a client omits the conversation id.
const DefaultConversationID = "default"

// Key scopes a conversation to one user.
type Key struct {
	UserID         string
	ConversationID string
}

// NewKey builds a key, falling back to the default conversation id.
func NewKey(userID, conversationID string) Key {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		conversationID = DefaultConversationID
	}
	return Key{UserID: userID, ConversationID: conversationID}
}

// Manager keeps bounded, ordered message logs in process memory.
// Contents are lost when the process exits.
type Manager struct {
	mu       sync.RWMutex
	maxTurns int
	convs    map[Key][]chat.Message
}

func NewManager(maxTurns int) *Manager {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Manager{
		maxTurns: maxTurns,
		convs:    make(map[Key][]chat.Message),
	}
}

func (m *Manager) MaxTurns() int { return m.maxTurns }

// Append adds msg to the end of the conversation, creating it if absent.
// It does not trim; call Trim or use AppendTurn.
func (m *Manager) Append(key Key, msg chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[key] = append(m.convs[key], msg)
}

// AppendTurn appends a user/assistant pair and trims in one step.
func (m *Manager) AppendTurn(key Key, user, assistant chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[key] = append(m.convs[key], user, assistant)
	m.trimLocked(key)
}

// Trim evicts the oldest turns until the conversation fits and returns the
// number of evicted messages. A turn is a user message with its assistant
// reply; an unanswered user message or a stray reply is evicted on its own.
func (m *Manager) Trim(key Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trimLocked(key)
}

func (m *Manager) trimLocked(key Key) int {
	arr := m.convs[key]
	removed := 0
	for len(arr)-removed > m.maxTurns {
		removed += headTurnLen(arr[removed:])
	}
	if removed == 0 {
		return 0
	}
	kept := make([]chat.Message, len(arr)-removed)
	copy(kept, arr[removed:])
	m.convs[key] = kept
	return removed
}

func headTurnLen(arr []chat.Message) int {
	if len(arr) >= 2 && arr[0].Role == chat.RoleUser && arr[1].Role == chat.RoleAssistant {
		return 2
	}
	return 1
}

// Get returns a copy of the conversation in insertion order.
func (m *Manager) Get(key Key) []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	arr := m.convs[key]
	out := make([]chat.Message, len(arr))
	copy(out, arr)
	return out
}

// Update replaces the message with the same id. It reports whether one was found.
func (m *Manager) Update(key Key, msg chat.Message) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	arr := m.convs[key]
	for i := range arr {
		if arr[i].ID == msg.ID {
			arr[i] = msg
			return true
		}
	}
	return false
}

// Replace overwrites a conversation wholesale and trims it, e.g. when
// restoring persisted state.
func (m *Manager) Replace(key Key, msgs []chat.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]chat.Message, len(msgs))
	copy(cp, msgs)
	m.convs[key] = cp
	m.trimLocked(key)
}

func (m *Manager) Clear(key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.convs, key)
}

// ClearUser drops every conversation owned by userID and returns how many were removed.
func (m *Manager) ClearUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.convs {
		if k.UserID == userID {
			delete(m.convs, k)
			n++
		}
	}
	return n
}

// Len returns the number of live conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.convs)
}
