package storage

import (
	"chat-relay/contract"
	"chat-relay/domain"
	errs "chat-relay/errors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// maxTxnRetries bounds how many times a transaction aborted by a concurrent
// writer (badger.ErrConflict) is replayed. It is a compare-and-swap loop,
// not a retry of storage faults.
const maxTxnRetries = 16

var _ contract.IConversationStore = (*ConversationRepository)(nil)

// ConversationRepository persists conversations and their messages in BadgerDB.
//
// Key layout:
//
//	pair:{len(a)}:{a}:{b}     -> conversation id (a <= b, uniqueness index)
//	conv:{id}                 -> conversation record
//	msg:{conv}:{seq:019}      -> message record, append order
//	uconv:{len(u)}:{u}:{conv} -> empty, per-user conversation index
type ConversationRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
	now           func() time.Time
}

func NewConversationRepository(db *badger.DB, log *slog.Logger, limitMessages *int) *ConversationRepository {
	return &ConversationRepository{
		db:            db,
		log:           log.With("component", "conversation_repository"),
		limitMessages: limitMessages,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func pairKey(a, b domain.UserID) []byte {
	first, second := domain.CanonicalPair(a, b)
	return []byte(fmt.Sprintf("pair:%d:%s:%s", len(first), first, second))
}

func conversationKey(id uuid.UUID) []byte {
	return []byte("conv:" + id.String())
}

func messagePrefix(conversationID uuid.UUID) []byte {
	return []byte("msg:" + conversationID.String() + ":")
}

func messageKey(conversationID uuid.UUID, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", conversationID, seq))
}

func userIndexPrefix(user domain.UserID) []byte {
	return []byte(fmt.Sprintf("uconv:%d:%s:", len(user), user))
}

func userIndexKey(user domain.UserID, conversationID uuid.UUID) []byte {
	return append(userIndexPrefix(user), []byte(conversationID.String())...)
}

func storageError(err error) error {
	if err == nil || errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrStorage) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrStorage, err)
}

// update runs fn in a read-write transaction, replaying it on write conflicts.
// fn must reset any captured output at the start of each attempt.
func (r *ConversationRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 1; attempt <= maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return storageError(err)
		}
		r.log.Debug("Transaction conflict, replaying", "attempt", attempt)
	}
	return fmt.Errorf("%w: transaction still conflicting after %d attempts", errs.ErrStorage, maxTxnRetries)
}

func (r *ConversationRepository) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return storageError(r.db.View(fn))
}

func getConversation(txn *badger.Txn, id uuid.UUID) (domain.Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, fmt.Errorf("%w: conversation %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	var conversation domain.Conversation
	err = item.Value(func(val []byte) error {
		conversation, err = decodeConversation(val)
		return err
	})
	return conversation, err
}

// lookupPair returns nil when the pair has never exchanged a message.
func lookupPair(txn *badger.Txn, a, b domain.UserID) (*domain.Conversation, error) {
	item, err := txn.Get(pairKey(a, b))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	id, err := uuid.ParseBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("corrupted pair index: %w", err)
	}
	conversation, err := getConversation(txn, id)
	if err != nil {
		return nil, err
	}
	return &conversation, nil
}

// FindConversation matches the pair regardless of the order it was stored in.
func (r *ConversationRepository) FindConversation(ctx context.Context, a, b domain.UserID) (*domain.Conversation, error) {
	var found *domain.Conversation
	err := r.view(ctx, func(txn *badger.Txn) error {
		var err error
		found, err = lookupPair(txn, a, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// CreateConversation is an atomic find-or-create. The pair index is read and
// written within the same transaction, so two racing creators conflict and the
// replayed one observes the conversation created by the winner.
func (r *ConversationRepository) CreateConversation(ctx context.Context, a, b domain.UserID) (domain.Conversation, error) {
	var result domain.Conversation
	err := r.update(ctx, func(txn *badger.Txn) error {
		existing, err := lookupPair(txn, a, b)
		if err != nil {
			return err
		}
		if existing != nil {
			result = *existing
			return nil
		}
		now := r.now()
		result = domain.Conversation{
			ID:        uuid.New(),
			Sender:    a,
			Receiver:  b,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err = txn.Set(pairKey(a, b), []byte(result.ID.String())); err != nil {
			return err
		}
		if err = txn.Set(conversationKey(result.ID), encodeConversation(result)); err != nil {
			return err
		}
		if err = txn.Set(userIndexKey(a, result.ID), nil); err != nil {
			return err
		}
		return txn.Set(userIndexKey(b, result.ID), nil)
	})
	if err != nil {
		return domain.Conversation{}, err
	}
	return result, nil
}

// AppendMessage assigns the identifier, timestamp and sequence number.
// Concurrent appends conflict on the conversation record, so the stored order
// is the commit order.
func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID uuid.UUID, message domain.Message) (domain.Message, error) {
	var stored domain.Message
	err := r.update(ctx, func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		now := r.now()
		if now.Before(conversation.UpdatedAt) {
			now = conversation.UpdatedAt
		}
		stored = message
		stored.ID = uuid.New()
		stored.ConversationID = conversationID
		stored.Seq = conversation.MessageCount + 1
		stored.Seen = false
		stored.CreatedAt = now

		conversation.MessageCount = stored.Seq
		conversation.UpdatedAt = now

		if err = txn.Set(messageKey(conversationID, stored.Seq), encodeMessage(stored)); err != nil {
			return err
		}
		return txn.Set(conversationKey(conversationID), encodeConversation(conversation))
	})
	if err != nil {
		return domain.Message{}, err
	}
	return stored, nil
}

// MarkSeen flips every unseen message written by authorID and returns how
// many were changed. Seen messages are never touched.
func (r *ConversationRepository) MarkSeen(ctx context.Context, conversationID uuid.UUID, authorID domain.UserID) (int, error) {
	var count int
	err := r.update(ctx, func(txn *badger.Txn) error {
		count = 0
		if _, err := getConversation(txn, conversationID); err != nil {
			return err
		}

		type pending struct {
			key   []byte
			value []byte
		}
		var updates []pending

		prefix := messagePrefix(conversationID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var message domain.Message
			err := item.Value(func(val []byte) error {
				var err error
				message, err = decodeMessage(val)
				return err
			})
			if err != nil {
				it.Close()
				return err
			}
			if message.AuthorID != authorID || message.Seen {
				continue
			}
			message.Seen = true
			updates = append(updates, pending{key: item.KeyCopy(nil), value: encodeMessage(message)})
		}
		it.Close()

		for _, u := range updates {
			if err := txn.Set(u.key, u.value); err != nil {
				return err
			}
		}
		count = len(updates)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ListConversationsForUser returns the user's conversations, most recent activity first.
func (r *ConversationRepository) ListConversationsForUser(ctx context.Context, userID domain.UserID) ([]domain.Conversation, error) {
	var conversations []domain.Conversation
	err := r.view(ctx, func(txn *badger.Txn) error {
		prefix := userIndexPrefix(userID)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rawID := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			id, err := uuid.Parse(rawID)
			if err != nil {
				return fmt.Errorf("corrupted user index %q: %w", rawID, err)
			}
			conversation, err := getConversation(txn, id)
			if err != nil {
				return err
			}
			conversations = append(conversations, conversation)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conversations, func(i, j int) bool {
		if conversations[i].UpdatedAt.Equal(conversations[j].UpdatedAt) {
			return conversations[i].ID.String() < conversations[j].ID.String()
		}
		return conversations[i].UpdatedAt.After(conversations[j].UpdatedAt)
	})
	return conversations, nil
}

// GetThread materializes a conversation with its messages in append order.
// When limitMessages is set only the newest messages are kept.
func (r *ConversationRepository) GetThread(ctx context.Context, conversationID uuid.UUID) (domain.Thread, error) {
	var thread domain.Thread
	err := r.view(ctx, func(txn *badger.Txn) error {
		conversation, err := getConversation(txn, conversationID)
		if err != nil {
			return err
		}
		thread.Conversation = conversation

		prefix := messagePrefix(conversationID)
		options := badger.DefaultIteratorOptions
		options.Reverse = r.limitMessages != nil
		it := txn.NewIterator(options)
		defer it.Close()

		seekKey := prefix
		if options.Reverse {
			// Start after the highest possible sequence and walk back.
			seekKey = append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		}

		for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
			if r.limitMessages != nil && len(thread.Messages) == *r.limitMessages {
				r.log.Debug(fmt.Sprintf("Maximum of %d message reached", *r.limitMessages))
				break
			}
			err := it.Item().Value(func(val []byte) error {
				message, err := decodeMessage(val)
				if err != nil {
					return err
				}
				thread.Messages = append(thread.Messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Thread{}, err
	}
	if r.limitMessages != nil {
		slices.Reverse(thread.Messages)
	}
	return thread, nil
}
