// Package chat is the inbound facade of Junction. It validates requests,
// drives the registry, ledger, unread tracker, presence tracker and
// assignment engine, and hands resulting events to the broadcaster.
package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/junction/internal/assignment"
	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/conversation"
	"github.com/zulandar/junction/internal/event"
	"github.com/zulandar/junction/internal/ids"
	"github.com/zulandar/junction/internal/ledger"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/presence"
	"github.com/zulandar/junction/internal/profile"
	"github.com/zulandar/junction/internal/realtime"
	"github.com/zulandar/junction/internal/unread"
	"gorm.io/gorm"
)

// Broadcaster delivers events to connected sessions. realtime.Dispatcher
// implements it.
type Broadcaster interface {
	Register(s realtime.Session)
	Unregister(s realtime.Session) bool
	BroadcastMessage(e event.MessageCreated, recipients []string) int
	BroadcastReadReceipt(e event.ReadReceiptCreated, recipients []string) int
	BroadcastPresence(e event.PresenceChanged, recipients []string) int
}

// Opts holds the collaborators of a Service.
type Opts struct {
	DB          *gorm.DB
	Timeout     time.Duration
	Profiles    profile.Resolver
	Broadcaster Broadcaster
	Presence    *presence.Tracker
	Assignment  *assignment.Engine
}

// Service implements every inbound chat operation.
type Service struct {
	registry  *conversation.Registry
	ledger    *ledger.Ledger
	unread    *unread.Tracker
	presence  *presence.Tracker
	snapshots *presence.Store
	assign    *assignment.Engine
	profiles  profile.Resolver
	out       Broadcaster
}

// New wires a Service. DB, Profiles and Broadcaster are required; a
// missing presence tracker or assignment engine gets a default one.
func New(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("chat: db is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("chat: profile resolver is required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("chat: broadcaster is required")
	}
	if opts.Presence == nil {
		opts.Presence = presence.NewTracker(presence.Thresholds{}, 1, nil)
	}
	if opts.Assignment == nil {
		opts.Assignment = assignment.NewEngine(opts.DB, opts.Timeout, nil, nil)
	}
	return &Service{
		registry:  conversation.NewRegistry(opts.DB, opts.Timeout),
		ledger:    ledger.New(opts.DB, opts.Timeout),
		unread:    unread.NewTracker(opts.DB, opts.Timeout),
		presence:  opts.Presence,
		snapshots: presence.NewStore(opts.DB, opts.Timeout),
		assign:    opts.Assignment,
		profiles:  opts.Profiles,
		out:       opts.Broadcaster,
	}, nil
}

// ConversationView is a conversation as shown to one user.
type ConversationView struct {
	models.Conversation
	Labels map[string]string `json:"labels"`
	Unread int               `json:"unread"`
}

// CreateConversation creates a direct or group conversation initiated by
// creatorID. Business conversations hold an agent slot and are opened with
// OpenBusinessConversation.
func (s *Service) CreateConversation(ctx context.Context, creatorID, convType string, participants []string, name string, metadata map[string]string) (*models.Conversation, error) {
	if err := ids.Check("creator", creatorID); err != nil {
		return nil, err
	}
	if convType == models.TypeBusiness {
		return nil, chaterr.InvalidArgument.With("business conversations are opened through agent assignment")
	}
	return s.registry.Create(ctx, convType, participants, conversation.CreateOpts{
		CreatedBy: creatorID,
		Name:      name,
		Metadata:  metadata,
	})
}

// OpenBusinessConversation connects customerID with an agent of businessID,
// or queues the request when every agent is busy.
func (s *Service) OpenBusinessConversation(ctx context.Context, businessID, customerID, name string) (*assignment.Opened, error) {
	return s.assign.Open(ctx, businessID, customerID, name)
}

// AddParticipant adds userID on behalf of actorID, who must be a member.
func (s *Service) AddParticipant(ctx context.Context, actorID, conversationID, userID string) (*models.Conversation, error) {
	if _, err := s.registry.RequireAccess(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	return s.registry.AddParticipant(ctx, conversationID, userID)
}

// RemoveParticipant removes userID on behalf of actorID, who must be a
// member. Members may remove themselves.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, conversationID, userID string) (*models.Conversation, error) {
	if _, err := s.registry.RequireAccess(ctx, conversationID, actorID); err != nil {
		return nil, err
	}
	return s.registry.RemoveParticipant(ctx, conversationID, userID)
}

// Archive archives the conversation. A business conversation frees its
// agent in the same transaction, so either both happen or neither does.
func (s *Service) Archive(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	return s.registry.ArchiveWith(ctx, conversationID, userID, func(tx *gorm.DB, c *models.Conversation) error {
		if c.Type != models.TypeBusiness {
			return nil
		}
		return s.assign.ReleaseTx(ctx, tx, c.ID)
	})
}

// Reassign moves a business conversation to another agent on behalf of
// actorID, who must be a member.
func (s *Service) Reassign(ctx context.Context, actorID, conversationID, reason string) (string, error) {
	if _, err := s.registry.RequireAccess(ctx, conversationID, actorID); err != nil {
		return "", err
	}
	return s.assign.Reassign(ctx, conversationID, reason)
}

// SendMessage validates and appends a message, then fans it out to every
// session of every participant. Checks run in a fixed order: sender known
// to the directory, sender id well formed, content present, content within
// the limit, conversation exists; access and archival follow.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	known, err := profile.Exists(ctx, s.profiles, senderID)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, chaterr.UserNotFound.With("sender %q is unknown", senderID)
	}
	if err := ids.Check("sender", senderID); err != nil {
		return nil, err
	}
	if err := ledger.CheckContent(content); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	msg, err := s.ledger.Append(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	recipients, err := s.registry.Participants(ctx, conversationID)
	if err != nil {
		log.Printf("chat: load participants of %s: %v", conversationID, err)
	} else {
		s.out.BroadcastMessage(event.NewMessageCreated(*msg), recipients)
	}
	s.activity(ctx, senderID, "")
	return msg, nil
}

// History returns messages of the conversation in order.
func (s *Service) History(ctx context.Context, conversationID, userID string, opts ledger.HistoryOpts) ([]models.Message, error) {
	return s.ledger.History(ctx, conversationID, userID, opts)
}

// MarkRead records a read receipt and publishes it when it is new.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string, messageID uint) (*models.MessageRead, error) {
	receipt, created, err := s.unread.MarkRead(ctx, conversationID, userID, messageID)
	if err != nil {
		return nil, err
	}
	if created {
		recipients, err := s.registry.Participants(ctx, conversationID)
		if err != nil {
			log.Printf("chat: load participants of %s: %v", conversationID, err)
		} else {
			s.out.BroadcastReadReceipt(event.NewReadReceiptCreated(*receipt), recipients)
		}
	}
	return receipt, nil
}

// UnreadCount returns userID's unread counter for the conversation.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	return s.unread.Count(ctx, conversationID, userID)
}

// RecountUnread rebuilds every counter of the conversation.
func (s *Service) RecountUnread(ctx context.Context, conversationID string) (map[string]int, error) {
	return s.unread.RecountConversation(ctx, conversationID)
}

// ListConversations returns userID's conversations with display labels and
// unread counters. A directory outage degrades labels to placeholders.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	convs, err := s.registry.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	counts, err := s.unread.Counts(ctx, userID)
	if err != nil {
		return nil, err
	}

	var everyone []string
	for _, c := range convs {
		everyone = append(everyone, c.ActiveMembers()...)
	}
	labels := profile.Labels(ctx, s.profiles, everyone)

	views := make([]ConversationView, len(convs))
	for i, c := range convs {
		views[i] = s.view(c, labels, counts[c.ID])
	}
	return views, nil
}

// GetConversation returns one conversation as seen by userID.
func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (*ConversationView, error) {
	conv, err := s.registry.RequireAccess(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	n, err := s.unread.Count(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	labels := profile.Labels(ctx, s.profiles, conv.ActiveMembers())
	v := s.view(*conv, labels, n)
	return &v, nil
}

func (s *Service) view(c models.Conversation, labels map[string]string, n int) ConversationView {
	own := make(map[string]string, len(c.Participants))
	for _, m := range c.ActiveMembers() {
		own[m] = labels[m]
	}
	return ConversationView{Conversation: c, Labels: own, Unread: n}
}

// Connect registers a realtime session and marks its device active.
func (s *Service) Connect(ctx context.Context, sess realtime.Session) {
	s.out.Register(sess)
	if change, ok := s.presence.Connect(sess.UserID(), sess.ID()); ok {
		s.publishPresence(ctx, change)
	}
}

// Disconnect forgets a realtime session.
func (s *Service) Disconnect(ctx context.Context, sess realtime.Session) {
	s.out.Unregister(sess)
	if change, ok := s.presence.Disconnect(sess.UserID(), sess.ID()); ok {
		s.publishPresence(ctx, change)
	}
}

// Heartbeat records activity. An empty sessionID applies to every device
// of the user; a session that is no longer connected is not revived.
func (s *Service) Heartbeat(ctx context.Context, userID, sessionID string) presence.Status {
	s.activity(ctx, userID, sessionID)
	return s.presence.Status(userID)
}

// Presence returns userID's current presence.
func (s *Service) Presence(userID string) presence.Status {
	return s.presence.Status(userID)
}

// SweepPresence applies idle decay as of now and publishes the changes.
func (s *Service) SweepPresence(ctx context.Context, now time.Time) int {
	changes := s.presence.Sweep(now)
	for _, c := range changes {
		s.publishPresence(ctx, c)
	}
	return len(changes)
}

// SnapshotPresence persists the presence of every tracked user.
func (s *Service) SnapshotPresence(ctx context.Context) error {
	return s.snapshots.Save(ctx, s.presence.Snapshot())
}

// RestorePresence seeds the tracker from the last persisted snapshot.
func (s *Service) RestorePresence(ctx context.Context) (int, error) {
	rows, err := s.snapshots.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.presence.Restore(rows)
	return len(rows), nil
}

// RegisterAgent creates or updates a support agent.
func (s *Service) RegisterAgent(ctx context.Context, agent models.Agent) (*models.Agent, error) {
	return s.assign.RegisterAgent(ctx, agent)
}

// SetAgentStatus changes an agent's status, reassigning its conversations
// when it goes offline.
func (s *Service) SetAgentStatus(ctx context.Context, agentID, status string) ([]string, error) {
	return s.assign.SetAgentStatus(ctx, agentID, status)
}

// ListAgents returns the agents of a business.
func (s *Service) ListAgents(ctx context.Context, businessID string) ([]models.Agent, error) {
	return s.assign.ListAgents(ctx, businessID)
}

// DrainPending opens conversations for queued business requests.
func (s *Service) DrainPending(ctx context.Context) ([]models.Conversation, error) {
	return s.assign.DrainPending(ctx)
}

func (s *Service) activity(ctx context.Context, userID, device string) {
	if change, ok := s.presence.Touch(userID, device); ok {
		s.publishPresence(ctx, change)
	}
}

func (s *Service) publishPresence(ctx context.Context, change event.PresenceChanged) {
	contacts, err := s.registry.Contacts(ctx, change.UserID)
	if err != nil {
		log.Printf("chat: presence contacts of %s: %v", change.UserID, err)
		return
	}
	s.out.BroadcastPresence(change, contacts)
}
