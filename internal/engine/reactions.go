package engine

import "strings"

// ReactionStore keeps per-message emoji counters. Counts only go up.
type ReactionStore struct {
	store *Store
}

// NewReactionStore binds reaction bookkeeping to a session store.
func NewReactionStore(store *Store) *ReactionStore {
	return &ReactionStore{store: store}
}

// AddReaction increments the count of emoji on the message, creating it at 1.
func (r *ReactionStore) AddReaction(messageID, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ErrEmptyReaction
	}
	_, err := r.store.addReaction(messageID, emoji)
	return err
}

// Counts returns a copy of the reaction counters of one message.
func (r *ReactionStore) Counts(messageID string) (map[string]int, error) {
	msg, ok := r.store.Message(messageID)
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.Reactions == nil {
		return map[string]int{}, nil
	}
	return msg.Reactions, nil
}
