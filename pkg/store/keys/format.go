package keys

const (
	// notation dictionary for key formats:
	// m   = message
	// r   = reply record
	// x   = reaction
	// u   = user
	// idx = index
	// pd  = pending delivered
	// ps  = pending seen
	// c   = conversation (per viewer)
	// p   = partner (per viewer, last message id)
	// segments are separated by ":"; <...> = variable segment

	// primary records
	MessageKey  = "m:%020d" // m:<msg_id>
	ReplyKey    = "r:%020d" // r:<msg_id>
	ReactionKey = "x:%020d" // x:<msg_id>
	UserKey     = "u:%s"    // u:<user_id>

	// state indexes, one entry per message still waiting on the transition
	PendingDeliveredKey = "idx:pd:%s:%020d"    // idx:pd:<receiver>:<msg_id>
	PendingSeenKey      = "idx:ps:%s:%s:%020d" // idx:ps:<receiver>:<sender>:<msg_id>

	// conversation indexes, written for both parties
	ConversationKey = "idx:c:%s:%s:%020d" // idx:c:<user>:<partner>:<msg_id>
	PartnerKey      = "idx:p:%s:%s"       // idx:p:<user>:<partner>

	// padding width for numeric ids (fixed for lexicographic ordering)
	IDPadWidth = 20

	// system keys
	SystemMessageSeqKey = "sys:seq:message"
)

// prefixes for range scans
const (
	userPrefix             = "u:"
	pendingDeliveredPrefix = "idx:pd:"
	pendingSeenPrefix      = "idx:ps:"
	conversationPrefix     = "idx:c:"
	partnerPrefix          = "idx:p:"
)
