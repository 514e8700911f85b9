package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/store/keys"
)

// GetReply returns the reply record of message id.
func (db *DB) GetReply(ctx context.Context, id uint64) (models.Reply, error) {
	if err := db.checkOpen(ctx); err != nil {
		return models.Reply{}, err
	}
	var r models.Reply
	if err := db.getJSON(keys.GenReplyKey(id), &r); err != nil {
		return models.Reply{}, err
	}
	return r, nil
}

// GetReaction returns the reaction on message id.
func (db *DB) GetReaction(ctx context.Context, id uint64) (string, error) {
	if err := db.checkOpen(ctx); err != nil {
		return "", err
	}
	v, err := db.get(keys.GenReactionKey(id))
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// PutReaction upserts the reaction on message id. replaced reports whether
// a previous reaction was overwritten.
func (db *DB) PutReaction(ctx context.Context, id uint64, reaction string) (replaced bool, err error) {
	if _, err := db.GetMessage(ctx, id); err != nil {
		return false, err
	}
	key := keys.GenReactionKey(id)
	unlock := db.reactions.Lock(key)
	defer unlock()
	if _, err := db.get(key); err == nil {
		replaced = true
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if err := db.client.Set([]byte(key), []byte(reaction), db.writeOpt()); err != nil {
		logger.Error("reaction_put_failed", "message_id", id, "error", err)
		return false, err
	}
	return replaced, nil
}

// DeleteReaction removes the reaction on message id. existed is false when
// there was nothing to delete.
func (db *DB) DeleteReaction(ctx context.Context, id uint64) (existed bool, err error) {
	if err := db.checkOpen(ctx); err != nil {
		return false, err
	}
	key := keys.GenReactionKey(id)
	unlock := db.reactions.Lock(key)
	defer unlock()
	if _, err := db.get(key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := db.client.Delete([]byte(key), db.writeOpt()); err != nil {
		logger.Error("reaction_delete_failed", "message_id", id, "error", err)
		return false, err
	}
	return true, nil
}

// PutUser creates or renames a user.
func (db *DB) PutUser(ctx context.Context, u models.User) error {
	if err := db.checkOpen(ctx); err != nil {
		return err
	}
	b := db.client.NewBatch()
	defer b.Close()
	if err := setJSON(b, keys.GenUserKey(u.ID), u); err != nil {
		return err
	}
	return b.Commit(db.writeOpt())
}

// GetUser loads a user by id.
func (db *DB) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := db.checkOpen(ctx); err != nil {
		return models.User{}, err
	}
	var u models.User
	if err := db.getJSON(keys.GenUserKey(id), &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// SearchUsers returns users other than exclude whose display name contains
// query, case-insensitively, in id order. It skips offset matches and
// returns at most limit.
func (db *DB) SearchUsers(ctx context.Context, exclude, query string, offset, limit int) ([]models.User, error) {
	if err := db.checkOpen(ctx); err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []models.User
	skipped := 0
	var derr error
	err := db.scanPrefix(keys.UserPrefix(), func(k, v []byte) bool {
		id, err := keys.ParseUserKey(string(k))
		if err != nil || id == exclude {
			return true
		}
		var u models.User
		if err := json.Unmarshal(v, &u); err != nil {
			derr = err
			return false
		}
		if !strings.Contains(strings.ToLower(u.Name), q) {
			return true
		}
		if skipped < offset {
			skipped++
			return true
		}
		if len(out) == limit {
			return false
		}
		out = append(out, u)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, derr
}
