package inbox

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"courier/pkg/logger"
	"courier/pkg/models"
	"courier/pkg/presence"
	"courier/pkg/store"
)

// Store is the read side the aggregator needs.
type Store interface {
	Partners(ctx context.Context, user string) ([]store.PartnerEntry, error)
	GetMessage(ctx context.Context, id uint64) (models.Message, error)
	LastMessage(ctx context.Context, user, partner string) (models.Message, error)
	CountUnseen(ctx context.Context, user, partner string) (int, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	SearchUsers(ctx context.Context, exclude, query string, offset, limit int) ([]models.User, error)
	ListConversation(ctx context.Context, user, partner string, offset, limit int) ([]models.Message, bool, error)
	GetReply(ctx context.Context, id uint64) (models.Reply, error)
	GetReaction(ctx context.Context, id uint64) (string, error)
}

var _ Store = (*store.DB)(nil)

// ErrInvalid marks a malformed read request.
var ErrInvalid = errors.New("invalid request")

// offset converts a 1-indexed page into a row offset. ok is false when the
// page lies beyond any addressable row.
func offset(page, size int) (int, bool) {
	if page-1 > math.MaxInt/size {
		return 0, false
	}
	return (page - 1) * size, true
}

// Options sets the fixed page sizes.
type Options struct {
	HistoryPageSize int
	SearchPageSize  int
}

// Inbox rebuilds conversation summaries and history pages from the store.
type Inbox struct {
	store Store
	chats *presence.OpenChats
	opts  Options
}

func New(st Store, chats *presence.OpenChats, opts Options) *Inbox {
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 20
	}
	if opts.SearchPageSize <= 0 {
		opts.SearchPageSize = 10
	}
	return &Inbox{store: st, chats: chats, opts: opts}
}

// ConversationsFor lists every partner of user with the last message and
// unseen count, most recent first. The whole list is returned as page 1.
func (i *Inbox) ConversationsFor(ctx context.Context, user string) (models.ConversationPage, error) {
	if err := models.ValidateUserID(user); err != nil {
		return models.ConversationPage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	partners, err := i.store.Partners(ctx, user)
	if err != nil {
		return models.ConversationPage{}, err
	}
	convs := make([]models.Conversation, 0, len(partners))
	for _, p := range partners {
		var last *models.Message
		m, err := i.store.GetMessage(ctx, p.LastID)
		switch {
		case err == nil:
			last = &m
		case errors.Is(err, store.ErrNotFound):
			logger.Warn("partner_index_dangling", "user", user, "partner", p.Partner, "message_id", p.LastID)
		default:
			return models.ConversationPage{}, err
		}
		c, err := i.summarize(ctx, user, p.Partner, last)
		if err != nil {
			return models.ConversationPage{}, err
		}
		convs = append(convs, c)
	}
	sortConversations(convs)
	return models.ConversationPage{Conversations: convs, Page: 1}, nil
}

// SearchPartners pages through users other than user whose display name
// contains query. One extra row is read to decide HasNextPage. Only the
// returned candidates are enriched with their conversation state.
func (i *Inbox) SearchPartners(ctx context.Context, user string, page int, query string) (models.ConversationPage, error) {
	if err := models.ValidateUserID(user); err != nil {
		return models.ConversationPage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if page < 1 {
		page = 1
	}
	size := i.opts.SearchPageSize
	skip, ok := offset(page, size)
	if !ok {
		return models.ConversationPage{Conversations: []models.Conversation{}, Page: page}, nil
	}
	users, err := i.store.SearchUsers(ctx, user, query, skip, size+1)
	if err != nil {
		return models.ConversationPage{}, err
	}
	hasNext := len(users) > size
	if hasNext {
		users = users[:size]
	}

	convs := make([]models.Conversation, 0, len(users))
	for _, u := range users {
		var last *models.Message
		m, err := i.store.LastMessage(ctx, user, u.ID)
		switch {
		case err == nil:
			last = &m
		case errors.Is(err, store.ErrNotFound):
		default:
			return models.ConversationPage{}, err
		}
		c, err := i.summarize(ctx, user, u.ID, last)
		if err != nil {
			return models.ConversationPage{}, err
		}
		c.PartnerName = u.Name
		convs = append(convs, c)
	}
	return models.ConversationPage{Conversations: convs, Page: page, HasNextPage: hasNext}, nil
}

// History returns one page of the conversation between user and partner.
// Page 1 holds the newest messages; each page is ordered by ascending id.
// An unknown partner is reported as store.ErrNotFound.
func (i *Inbox) History(ctx context.Context, user, partner string, page int) (models.HistoryPage, error) {
	if err := models.ValidateUserID(user); err != nil {
		return models.HistoryPage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := models.ValidateUserID(partner); err != nil {
		return models.HistoryPage{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := i.store.GetUser(ctx, partner); err != nil {
		return models.HistoryPage{}, fmt.Errorf("partner %s: %w", partner, err)
	}
	if page < 1 {
		page = 1
	}
	size := i.opts.HistoryPageSize
	skip, ok := offset(page, size)
	if !ok {
		return models.HistoryPage{Messages: []models.MessageView{}, Page: page}, nil
	}
	msgs, more, err := i.store.ListConversation(ctx, user, partner, skip, size)
	if err != nil {
		return models.HistoryPage{}, err
	}
	views := make([]models.MessageView, len(msgs))
	for idx, m := range msgs {
		v, err := i.join(ctx, m)
		if err != nil {
			return models.HistoryPage{}, err
		}
		// store order is newest first
		views[len(msgs)-1-idx] = v
	}
	return models.HistoryPage{Messages: views, Page: page, HasNextPage: more}, nil
}

func (i *Inbox) join(ctx context.Context, m models.Message) (models.MessageView, error) {
	v := models.MessageView{Message: m}
	r, err := i.store.GetReply(ctx, m.ID)
	switch {
	case err == nil:
		target, err := i.store.GetMessage(ctx, r.TargetID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return v, err
		}
		if err == nil {
			v.ReplyTo = &models.ReplyPreview{ID: target.ID, Sender: target.Sender, Text: target.Text}
		}
	case !errors.Is(err, store.ErrNotFound):
		return v, err
	}
	reaction, err := i.store.GetReaction(ctx, m.ID)
	switch {
	case err == nil:
		v.Reaction = reaction
	case !errors.Is(err, store.ErrNotFound):
		return v, err
	}
	return v, nil
}

// summarize fills unseen count and preview. The partner whose chat user has
// open reports no unseen messages since they are on screen.
func (i *Inbox) summarize(ctx context.Context, user, partner string, last *models.Message) (models.Conversation, error) {
	c := models.Conversation{Partner: partner, LastMessage: last}
	if u, err := i.store.GetUser(ctx, partner); err == nil {
		c.PartnerName = u.Name
	} else if !errors.Is(err, store.ErrNotFound) {
		return c, err
	}
	if last == nil {
		return c, nil
	}
	if open, ok := i.openPartner(user); !ok || open != partner {
		n, err := i.store.CountUnseen(ctx, user, partner)
		if err != nil {
			return c, err
		}
		c.UnseenCount = n
	}
	c.Preview = Preview(user, *last, c.UnseenCount)
	return c, nil
}

func (i *Inbox) openPartner(user string) (string, bool) {
	if i.chats == nil {
		return "", false
	}
	return i.chats.Partner(user)
}

// Preview is the inbox row text: "N new messages" when more than one is
// unseen and the last one came from the partner, else the last text.
func Preview(viewer string, last models.Message, unseen int) string {
	if unseen > 1 && last.Sender != viewer {
		return fmt.Sprintf("%d new messages", unseen)
	}
	return last.Text
}

// sortConversations orders by last sent time descending; partners without
// a message go last.
func sortConversations(convs []models.Conversation) {
	sort.SliceStable(convs, func(a, b int) bool {
		la, lb := convs[a].LastMessage, convs[b].LastMessage
		switch {
		case la == nil:
			return false
		case lb == nil:
			return true
		case !la.Sent.Equal(lb.Sent):
			return la.Sent.After(lb.Sent)
		default:
			return la.ID > lb.ID
		}
	})
}
