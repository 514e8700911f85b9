package store

import (
	"context"
	"errors"
	"fmt"

	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/store/keys"
)

// ErrReplyOutsideConversation is returned when a reply target belongs to a
// different pair of users.
var ErrReplyOutsideConversation = errors.New("reply target is not part of this conversation")

type kv struct {
	key string
	val []byte
}

func samePair(a, b models.Message) bool {
	return (a.Sender == b.Sender && a.Receiver == b.Receiver) ||
		(a.Sender == b.Receiver && a.Receiver == b.Sender)
}

// CreateMessage assigns the next id and writes the message, its optional
// reply record and every index entry in one batch. The returned message
// carries the assigned id.
func (db *DB) CreateMessage(ctx context.Context, msg models.Message, replyTo uint64) (models.Message, error) {
	if err := db.checkOpen(ctx); err != nil {
		return models.Message{}, err
	}

	if replyTo != 0 {
		target, err := db.GetMessage(ctx, replyTo)
		if err != nil {
			return models.Message{}, fmt.Errorf("reply target %d: %w", replyTo, err)
		}
		if !samePair(target, msg) {
			return models.Message{}, ErrReplyOutsideConversation
		}
	}

	db.seqMu.Lock()
	defer db.seqMu.Unlock()

	msg.ID = db.lastSeq + 1
	b := db.client.NewBatch()
	defer b.Close()

	if err := setJSON(b, keys.GenMessageKey(msg.ID), msg); err != nil {
		return models.Message{}, err
	}
	if replyTo != 0 {
		if err := setJSON(b, keys.GenReplyKey(msg.ID), models.Reply{MessageID: msg.ID, TargetID: replyTo}); err != nil {
			return models.Message{}, err
		}
	}
	id := []byte(keys.PadID(msg.ID))
	ops := []kv{
		{keys.GenConversationKey(msg.Sender, msg.Receiver, msg.ID), nil},
		{keys.GenConversationKey(msg.Receiver, msg.Sender, msg.ID), nil},
		{keys.GenPartnerKey(msg.Sender, msg.Receiver), id},
		{keys.GenPartnerKey(msg.Receiver, msg.Sender), id},
		{keys.SystemMessageSeqKey, id},
	}
	if models.IsPending(msg.Delivered) {
		ops = append(ops, kv{keys.GenPendingDeliveredKey(msg.Receiver, msg.ID), nil})
	}
	if models.IsPending(msg.Seen) {
		ops = append(ops, kv{keys.GenPendingSeenKey(msg.Receiver, msg.Sender, msg.ID), nil})
	}
	for _, op := range ops {
		if err := b.Set([]byte(op.key), op.val, nil); err != nil {
			return models.Message{}, err
		}
	}
	if err := b.Commit(db.writeOpt()); err != nil {
		logger.Error("message_create_failed", "sender", msg.Sender, "receiver", msg.Receiver, "error", err)
		return models.Message{}, err
	}
	db.lastSeq = msg.ID
	logger.Debug("message_created", "id", msg.ID, "sender", msg.Sender, "receiver", msg.Receiver)
	return msg, nil
}

// GetMessage loads one message by id.
func (db *DB) GetMessage(ctx context.Context, id uint64) (models.Message, error) {
	if err := db.checkOpen(ctx); err != nil {
		return models.Message{}, err
	}
	var m models.Message
	if err := db.getJSON(keys.GenMessageKey(id), &m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// ListConversation returns messages between user and partner newest first,
// skipping offset rows. hasMore reports whether older rows remain.
func (db *DB) ListConversation(ctx context.Context, user, partner string, offset, limit int) ([]models.Message, bool, error) {
	if err := db.checkOpen(ctx); err != nil {
		return nil, false, err
	}
	if offset < 0 {
		offset = 0
	}
	var ids []uint64
	var perr error
	skipped := 0
	hasMore := false
	err := db.scanPrefixReverse(keys.ConversationPrefix(user, partner), func(k, _ []byte) bool {
		if skipped < offset {
			skipped++
			return true
		}
		if len(ids) == limit {
			hasMore = true
			return false
		}
		id, err := keys.ParseTrailingID(string(k))
		if err != nil {
			perr = err
			return false
		}
		ids = append(ids, id)
		return true
	})
	if err != nil {
		return nil, false, err
	}
	if perr != nil {
		return nil, false, perr
	}
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		m, err := db.GetMessage(ctx, id)
		if err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	return out, hasMore, nil
}

// PartnerEntry is one conversation partner with the id of the latest message.
type PartnerEntry struct {
	Partner string
	LastID  uint64
}

// Partners lists every user that user has exchanged messages with.
func (db *DB) Partners(ctx context.Context, user string) ([]PartnerEntry, error) {
	if err := db.checkOpen(ctx); err != nil {
		return nil, err
	}
	var out []PartnerEntry
	var perr error
	err := db.scanPrefix(keys.PartnerPrefix(user), func(k, v []byte) bool {
		_, partner, err := keys.ParsePartnerKey(string(k))
		if err != nil {
			perr = err
			return false
		}
		id, err := keys.ParseID(string(v))
		if err != nil {
			perr = fmt.Errorf("partner index %s: %w", k, err)
			return false
		}
		out = append(out, PartnerEntry{Partner: partner, LastID: id})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, perr
}

// LastMessage returns the most recent message between user and partner.
func (db *DB) LastMessage(ctx context.Context, user, partner string) (models.Message, error) {
	if err := db.checkOpen(ctx); err != nil {
		return models.Message{}, err
	}
	v, err := db.get(keys.GenPartnerKey(user, partner))
	if err != nil {
		return models.Message{}, err
	}
	id, err := keys.ParseID(string(v))
	if err != nil {
		return models.Message{}, err
	}
	return db.GetMessage(ctx, id)
}

// CountUnseen counts messages from partner to user still pending seen.
func (db *DB) CountUnseen(ctx context.Context, user, partner string) (int, error) {
	if err := db.checkOpen(ctx); err != nil {
		return 0, err
	}
	return db.countPrefix(keys.PendingSeenPrefix(user, partner))
}
