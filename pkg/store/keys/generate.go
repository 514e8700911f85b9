package keys

import "fmt"

func GenMessageKey(id uint64) string  { return fmt.Sprintf(MessageKey, id) }
func GenReplyKey(id uint64) string    { return fmt.Sprintf(ReplyKey, id) }
func GenReactionKey(id uint64) string { return fmt.Sprintf(ReactionKey, id) }
func GenUserKey(userID string) string { return fmt.Sprintf(UserKey, userID) }

func GenPendingDeliveredKey(receiver string, id uint64) string {
	return fmt.Sprintf(PendingDeliveredKey, receiver, id)
}

func GenPendingSeenKey(receiver, sender string, id uint64) string {
	return fmt.Sprintf(PendingSeenKey, receiver, sender, id)
}

func GenConversationKey(user, partner string, id uint64) string {
	return fmt.Sprintf(ConversationKey, user, partner, id)
}

func GenPartnerKey(user, partner string) string {
	return fmt.Sprintf(PartnerKey, user, partner)
}

// prefixes

func UserPrefix() string { return userPrefix }

func PendingDeliveredPrefix(receiver string) string {
	return pendingDeliveredPrefix + receiver + ":"
}

// AllPendingDeliveredPrefix covers every receiver.
func AllPendingDeliveredPrefix() string { return pendingDeliveredPrefix }

func PendingSeenPrefix(receiver, sender string) string {
	return pendingSeenPrefix + receiver + ":" + sender + ":"
}

// PendingSeenReceiverPrefix covers every sender for receiver.
func PendingSeenReceiverPrefix(receiver string) string {
	return pendingSeenPrefix + receiver + ":"
}

func AllPendingSeenPrefix() string { return pendingSeenPrefix }

func ConversationPrefix(user, partner string) string {
	return conversationPrefix + user + ":" + partner + ":"
}

func PartnerPrefix(user string) string {
	return partnerPrefix + user + ":"
}

// UpperBound returns the smallest key greater than every key with prefix.
func UpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}

// PadID formats an id the way it appears inside keys and index values.
func PadID(id uint64) string { return fmt.Sprintf("%020d", id) }
