package store

import (
	"context"
	"errors"
	"time"

	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/store/keys"
)

// SweepDelivered marks every message to receiver whose delivered timestamp
// is still the sentinel as delivered at now. Rows already resolved are left
// untouched. Returns the number of messages changed.
func (db *DB) SweepDelivered(ctx context.Context, receiver string, now time.Time) (int, error) {
	if err := db.checkOpen(ctx); err != nil {
		return 0, err
	}
	unlock := db.receivers.Lock(receiver)
	defer unlock()

	ids, err := db.collectIDs(keys.PendingDeliveredPrefix(receiver), 0)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	b := db.client.NewBatch()
	defer b.Close()
	changed := 0
	for _, id := range ids {
		idxKey := []byte(keys.GenPendingDeliveredKey(receiver, id))
		m, err := db.GetMessage(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = b.Delete(idxKey, nil)
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := b.Delete(idxKey, nil); err != nil {
			return 0, err
		}
		if m.Receiver != receiver || !models.IsPending(m.Delivered) {
			continue
		}
		m.Delivered = notBefore(now, m.Sent)
		if err := setJSON(b, keys.GenMessageKey(id), m); err != nil {
			return 0, err
		}
		changed++
	}
	if err := b.Commit(db.writeOpt()); err != nil {
		logger.Error("sweep_delivered_failed", "receiver", receiver, "error", err)
		return 0, err
	}
	return changed, nil
}

// SweepSeen marks messages from sender to receiver whose seen timestamp is
// still the sentinel as seen at now. upTo bounds the sweep to ids <= upTo;
// zero means no bound. A message still pending delivery is delivered at the
// same instant so delivered never trails seen.
func (db *DB) SweepSeen(ctx context.Context, receiver, sender string, upTo uint64, now time.Time) (int, error) {
	if err := db.checkOpen(ctx); err != nil {
		return 0, err
	}
	unlock := db.receivers.Lock(receiver)
	defer unlock()

	ids, err := db.collectIDs(keys.PendingSeenPrefix(receiver, sender), upTo)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	b := db.client.NewBatch()
	defer b.Close()
	changed := 0
	for _, id := range ids {
		idxKey := []byte(keys.GenPendingSeenKey(receiver, sender, id))
		m, err := db.GetMessage(ctx, id)
		if errors.Is(err, ErrNotFound) {
			_ = b.Delete(idxKey, nil)
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := b.Delete(idxKey, nil); err != nil {
			return 0, err
		}
		if m.Sender != sender || m.Receiver != receiver || !models.IsPending(m.Seen) {
			continue
		}
		at := notBefore(now, m.Sent)
		if models.IsPending(m.Delivered) {
			m.Delivered = at
			if err := b.Delete([]byte(keys.GenPendingDeliveredKey(receiver, id)), nil); err != nil {
				return 0, err
			}
		}
		m.Seen = notBefore(at, m.Delivered)
		if err := setJSON(b, keys.GenMessageKey(id), m); err != nil {
			return 0, err
		}
		changed++
	}
	if err := b.Commit(db.writeOpt()); err != nil {
		logger.Error("sweep_seen_failed", "receiver", receiver, "sender", sender, "error", err)
		return 0, err
	}
	return changed, nil
}

// PendingCounts is the size of the delivery and read backlogs.
type PendingCounts struct {
	Delivered int
	Seen      int
}

// CountPending walks both state indexes.
func (db *DB) CountPending(ctx context.Context) (PendingCounts, error) {
	if err := db.checkOpen(ctx); err != nil {
		return PendingCounts{}, err
	}
	d, err := db.countPrefix(keys.AllPendingDeliveredPrefix())
	if err != nil {
		return PendingCounts{}, err
	}
	s, err := db.countPrefix(keys.AllPendingSeenPrefix())
	if err != nil {
		return PendingCounts{}, err
	}
	return PendingCounts{Delivered: d, Seen: s}, nil
}

// collectIDs returns the trailing ids of every key under prefix, ascending,
// stopping after upTo when it is non-zero.
func (db *DB) collectIDs(prefix string, upTo uint64) ([]uint64, error) {
	var ids []uint64
	var perr error
	err := db.scanPrefix(prefix, func(k, _ []byte) bool {
		id, err := keys.ParseTrailingID(string(k))
		if err != nil {
			perr = err
			return false
		}
		if upTo != 0 && id > upTo {
			return false
		}
		ids = append(ids, id)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ids, perr
}

// notBefore keeps timestamps monotonic when the clock lags a stored value.
func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
