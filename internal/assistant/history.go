package assistant

import (
	"container/list"
	"sync"
	"time"
)

type turn struct {
	question string
	answer   string
}

// history keeps the last turns per chat. Chats idle for longer than ttl are forgotten and at
// most maxChats are kept, evicting the least recently used.
type history struct {
	mu       sync.Mutex
	entries  map[int64]*list.Element
	order    *list.List
	maxChats int
	maxTurns int
	ttl      time.Duration
}

type historyEntry struct {
	chatID    int64
	turns     []turn
	expiresAt time.Time
}

func newHistory(maxChats int, maxTurns int, ttl time.Duration) *history {
	if maxChats <= 0 || maxTurns <= 0 {
		return nil
	}

	return &history{
		entries:  make(map[int64]*list.Element, maxChats),
		order:    list.New(),
		maxChats: maxChats,
		maxTurns: maxTurns,
		ttl:      ttl,
	}
}

func (h *history) get(chatID int64, now time.Time) []turn {
	if h == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	elem, ok := h.entries[chatID]
	if !ok {
		return nil
	}

	entry, ok := elem.Value.(*historyEntry)
	if !ok {
		return nil
	}

	if now.After(entry.expiresAt) {
		h.removeElement(elem)
		return nil
	}

	h.order.MoveToFront(elem)

	return append([]turn(nil), entry.turns...)
}

func (h *history) add(chatID int64, t turn, now time.Time) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	expiresAt := now.Add(h.ttl)

	if elem, ok := h.entries[chatID]; ok {
		if entry, castOk := elem.Value.(*historyEntry); castOk {
			entry.turns = append(entry.turns, t)
			if extra := len(entry.turns) - h.maxTurns; extra > 0 {
				entry.turns = entry.turns[extra:]
			}
			entry.expiresAt = expiresAt
			h.order.MoveToFront(elem)
		}
		return
	}

	elem := h.order.PushFront(&historyEntry{
		chatID:    chatID,
		turns:     []turn{t},
		expiresAt: expiresAt,
	})
	h.entries[chatID] = elem

	h.evictExpiredLocked(now)
	h.enforceSizeLimitLocked()
}

func (h *history) reset(chatID int64) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if elem, ok := h.entries[chatID]; ok {
		h.removeElement(elem)
	}
}

func (h *history) evictExpiredLocked(now time.Time) {
	for elem := h.order.Back(); elem != nil; {
		prev := elem.Prev()
		if entry, ok := elem.Value.(*historyEntry); ok && now.After(entry.expiresAt) {
			h.removeElement(elem)
		}
		elem = prev
	}
}

func (h *history) enforceSizeLimitLocked() {
	for len(h.entries) > h.maxChats {
		elem := h.order.Back()
		if elem == nil {
			return
		}
		h.removeElement(elem)
	}
}

func (h *history) removeElement(elem *list.Element) {
	entry, ok := elem.Value.(*historyEntry)
	if !ok {
		return
	}

	delete(h.entries, entry.chatID)
	h.order.Remove(elem)
}
