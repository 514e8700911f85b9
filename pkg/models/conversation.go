package models

// Conversation summarizes one partner in a user's inbox.
type Conversation struct {
	Partner     string   `json:"partner"`
	PartnerName string   `json:"partner_name,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnseenCount int      `json:"unseen_count"`
	// Preview is the text shown in the inbox row. It is either the last
	// message text or "N new messages".
	Preview string `json:"preview"`
}

// ConversationPage is the paginated shape shared by the inbox list and
// partner search.
type ConversationPage struct {
	Conversations []Conversation `json:"conversations"`
	Page          int            `json:"page"`
	HasNextPage   bool           `json:"has_next_page"`
}

// HistoryPage is one page of a conversation, oldest first.
type HistoryPage struct {
	Messages    []MessageView `json:"messages"`
	Page        int           `json:"page"`
	HasNextPage bool          `json:"has_next_page"`
}
