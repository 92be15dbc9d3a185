// Package assignment routes business conversations to support agents.
//
// Agent workload lives in the agents table. Every counter change is a
// conditional update inside a transaction, so concurrent assignments can
// never push an agent past maxConcurrentChats or below zero.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/junction/internal/chaterr"
	"github.com/zulandar/junction/internal/conversation"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/ids"
	"github.com/zulandar/junction/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Notice kinds.
const (
	NoticeQueued            = "queued"
	NoticeStranded          = "stranded"
	NoticeCapacityViolation = "capacity_violation"
)

// Notice is an operator-facing report raised by the engine.
type Notice struct {
	Kind           string
	BusinessID     string
	CustomerID     string
	ConversationID string
	AgentID        string
	PendingID      uint
	Detail         string
}

// Text renders the notice as one plain sentence.
func (n Notice) Text() string {
	switch n.Kind {
	case NoticeQueued:
		return fmt.Sprintf("No agent available for business %s; request %d queued for customer %s.",
			n.BusinessID, n.PendingID, n.CustomerID)
	case NoticeStranded:
		return fmt.Sprintf("Conversation %s stays with offline agent %s: %s", n.ConversationID, n.AgentID, n.Detail)
	case NoticeCapacityViolation:
		return fmt.Sprintf("Capacity violation refused: %s", n.Detail)
	default:
		return n.Detail
	}
}

// Notifier posts operator notices. Failures are logged by the engine.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Opened is the outcome of a business conversation request: either a
// conversation with an agent, or a queued pending request.
type Opened struct {
	Conversation *models.Conversation
	Pending      *models.PendingAssignment
}

// Engine assigns agents to business conversations.
type Engine struct {
	db       *gorm.DB
	timeout  time.Duration
	policy   Policy
	notifier Notifier
	now      func() time.Time
}

// NewEngine creates an Engine. notifier may be nil.
func NewEngine(conn *gorm.DB, timeout time.Duration, policy Policy, notifier Notifier) *Engine {
	if policy == nil {
		policy = NewRoundRobin()
	}
	return &Engine{db: conn, timeout: timeout, policy: policy, notifier: notifier, now: time.Now}
}

// Policy returns the selection policy in use.
func (e *Engine) Policy() Policy { return e.policy }

// Assign reserves a slot on an agent of businessID and returns the agent.
func (e *Engine) Assign(ctx context.Context, businessID string) (string, error) {
	var agentID string
	err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
		var err error
		agentID, err = e.assignTx(tx, businessID)
		return err
	})
	if err != nil {
		return "", chaterr.Infra(err, "assignment: assign")
	}
	return agentID, nil
}

// assignTx selects an agent with the policy and increments its counter.
// When another transaction fills the agent first, the agent is excluded
// and selection runs again.
func (e *Engine) assignTx(tx *gorm.DB, businessID string, exclude ...string) (string, error) {
	tried := append([]string(nil), exclude...)
	for {
		q := tx.Where("business_id = ? AND status = ? AND current_chat_count < max_concurrent_chats",
			businessID, models.AgentAvailable)
		if len(tried) > 0 {
			q = q.Where("id NOT IN ?", tried)
		}
		var candidates []models.Agent
		if err := q.Order("id").Find(&candidates).Error; err != nil {
			return "", fmt.Errorf("assignment: load candidates: %w", err)
		}
		if len(candidates) == 0 {
			return "", chaterr.NoAvailableAgents.With("no available agent for business %s", businessID)
		}

		pick := e.policy.Pick(businessID, candidates)
		result := tx.Model(&models.Agent{}).
			Where("id = ? AND status = ? AND current_chat_count < max_concurrent_chats", pick.ID, models.AgentAvailable).
			Updates(map[string]interface{}{
				"current_chat_count": gorm.Expr("current_chat_count + ?", 1),
				"updated_at":         e.now(),
			})
		if result.Error != nil {
			return "", fmt.Errorf("assignment: reserve %s: %w", pick.ID, result.Error)
		}
		if result.RowsAffected == 1 {
			return pick.ID, nil
		}
		tried = append(tried, pick.ID)
	}
}

// releaseTx frees one slot on agentID. Agents unknown to the workload
// table are ignored; a counter already at zero is a capacity violation.
func (e *Engine) releaseTx(tx *gorm.DB, agentID string) error {
	var agent models.Agent
	result := tx.Where("id = ?", agentID).Limit(1).Find(&agent)
	if result.Error != nil {
		return fmt.Errorf("assignment: load agent %s: %w", agentID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	upd := tx.Model(&models.Agent{}).
		Where("id = ? AND current_chat_count > 0", agentID).
		Updates(map[string]interface{}{
			"current_chat_count": gorm.Expr("current_chat_count - ?", 1),
			"updated_at":         e.now(),
		})
	if upd.Error != nil {
		return fmt.Errorf("assignment: release %s: %w", agentID, upd.Error)
	}
	if upd.RowsAffected == 0 {
		return chaterr.CapacityViolation.With("agent %s has no open chats to release", agentID)
	}
	return nil
}

// Open creates a business conversation between customerID and an agent of
// businessID. With no agent available the request is queued instead and
// the returned Opened carries the pending row.
func (e *Engine) Open(ctx context.Context, businessID, customerID, name string) (*Opened, error) {
	if businessID == "" {
		return nil, chaterr.MissingMetadata.With("business conversations require metadata.%s", models.MetaBusinessID)
	}
	if err := ids.Check("customer", customerID); err != nil {
		return nil, err
	}

	out := &Opened{}
	err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
		conv, pending, err := e.openTx(tx, businessID, customerID, name)
		if errors.Is(err, chaterr.NoAvailableAgents) {
			pending, err = e.enqueueTx(tx, businessID, customerID, name)
		}
		out.Conversation, out.Pending = conv, pending
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, chaterr.Infra(err, "assignment: open"))
	}
	if out.Pending != nil {
		e.notify(ctx, Notice{
			Kind:       NoticeQueued,
			BusinessID: businessID,
			CustomerID: customerID,
			PendingID:  out.Pending.ID,
		})
	}
	return out, nil
}

func (e *Engine) openTx(tx *gorm.DB, businessID, customerID, name string) (*models.Conversation, *models.PendingAssignment, error) {
	agentID, err := e.assignTx(tx, businessID)
	if err != nil {
		return nil, nil, err
	}
	now := e.now()
	conv, err := conversation.Build(models.TypeBusiness, []string{customerID}, conversation.CreateOpts{
		CreatedBy: customerID,
		Name:      name,
		Metadata: map[string]string{
			models.MetaBusinessID:      businessID,
			models.MetaAssignedAgentID: agentID,
		},
	}, now)
	if err != nil {
		return nil, nil, err
	}
	if err := conversation.CreateTx(tx, conv); err != nil {
		return nil, nil, err
	}
	a := models.Assignment{ConversationID: conv.ID, AgentID: agentID, BusinessID: businessID, AssignedAt: now}
	if err := tx.Create(&a).Error; err != nil {
		return nil, nil, fmt.Errorf("assignment: record %s: %w", conv.ID, err)
	}
	return conv, nil, nil
}

// Enqueue records a pending request for businessID.
func (e *Engine) Enqueue(ctx context.Context, businessID, customerID, name string) (*models.PendingAssignment, error) {
	if err := ids.Check("customer", customerID); err != nil {
		return nil, err
	}
	var p *models.PendingAssignment
	err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
		var err error
		p, err = e.enqueueTx(tx, businessID, customerID, name)
		return err
	})
	if err != nil {
		return nil, chaterr.Infra(err, "assignment: enqueue")
	}
	return p, nil
}

func (e *Engine) enqueueTx(tx *gorm.DB, businessID, customerID, name string) (*models.PendingAssignment, error) {
	p := &models.PendingAssignment{
		BusinessID:  businessID,
		CustomerID:  customerID,
		Name:        name,
		Status:      models.PendingWaiting,
		RequestedAt: e.now(),
	}
	if err := tx.Create(p).Error; err != nil {
		return nil, fmt.Errorf("assignment: enqueue: %w", err)
	}
	return p, nil
}

// DrainPending opens conversations for queued requests, oldest first, while
// agents have capacity. A business with no free agent is skipped until the
// next drain.
func (e *Engine) DrainPending(ctx context.Context) ([]models.Conversation, error) {
	conn, cancel := db.Scoped(ctx, e.db, e.timeout)
	var queue []models.PendingAssignment
	err := conn.Where("status = ?", models.PendingWaiting).Order("requested_at, id").Find(&queue).Error
	cancel()
	if err != nil {
		return nil, chaterr.Infra(err, "assignment: load pending")
	}

	var opened []models.Conversation
	full := map[string]bool{}
	for _, p := range queue {
		if full[p.BusinessID] {
			continue
		}
		var conv *models.Conversation
		err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
			claim := tx.Model(&models.PendingAssignment{}).
				Where("id = ? AND status = ?", p.ID, models.PendingWaiting).
				Update("status", models.PendingFulfilled)
			if claim.Error != nil {
				return fmt.Errorf("assignment: claim pending %d: %w", p.ID, claim.Error)
			}
			if claim.RowsAffected == 0 {
				return nil
			}
			var err error
			conv, _, err = e.openTx(tx, p.BusinessID, p.CustomerID, p.Name)
			if err != nil {
				return err
			}
			now := e.now()
			return tx.Model(&models.PendingAssignment{}).Where("id = ?", p.ID).
				Updates(map[string]interface{}{"conversation_id": conv.ID, "fulfilled_at": now}).Error
		})
		switch {
		case errors.Is(err, chaterr.NoAvailableAgents):
			full[p.BusinessID] = true
		case err != nil:
			return opened, e.fail(ctx, chaterr.Infra(err, "assignment: drain"))
		case conv != nil:
			opened = append(opened, *conv)
		}
	}
	return opened, nil
}

// Pending returns the queued requests of businessID, oldest first.
func (e *Engine) Pending(ctx context.Context, businessID string) ([]models.PendingAssignment, error) {
	conn, cancel := db.Scoped(ctx, e.db, e.timeout)
	defer cancel()
	var out []models.PendingAssignment
	if err := conn.Where("business_id = ? AND status = ?", businessID, models.PendingWaiting).
		Order("requested_at, id").Find(&out).Error; err != nil {
		return nil, chaterr.Infra(err, "assignment: list pending")
	}
	return out, nil
}

// Reassign moves a business conversation to another agent of the same
// business. Both counters, the participant swap, the metadata and the
// assignment row change in one transaction.
func (e *Engine) Reassign(ctx context.Context, conversationID, reason string) (string, error) {
	var agentID string
	err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
		conv, err := conversation.LoadTx(tx, conversationID, true)
		if err != nil {
			return err
		}
		if conv.Type != models.TypeBusiness {
			return chaterr.InvalidArgument.With("only business conversations have agents")
		}
		if conv.Archived() {
			return chaterr.ConversationArchived.With("conversation %s is archived", conv.ID)
		}
		businessID := conv.Metadata[models.MetaBusinessID]
		previous := conv.Metadata[models.MetaAssignedAgentID]

		agentID, err = e.assignTx(tx, businessID, previous)
		if err != nil {
			return err
		}
		if previous != "" {
			if err := e.releaseTx(tx, previous); err != nil {
				return err
			}
		}

		now := e.now()
		if previous != "" {
			if err := conversation.LeaveTx(tx, conv.ID, previous, now); err != nil {
				return err
			}
		}
		if err := conversation.JoinTx(tx, conv, agentID, models.RoleAgent, now); err != nil {
			return err
		}

		meta := make(map[string]string, len(conv.Metadata))
		for k, v := range conv.Metadata {
			meta[k] = v
		}
		meta[models.MetaAssignedAgentID] = agentID
		if err := tx.Model(&models.Conversation{}).Where("id = ?", conv.ID).
			Updates(&models.Conversation{Metadata: meta, UpdatedAt: now}).Error; err != nil {
			return fmt.Errorf("assignment: update metadata: %w", err)
		}

		a := models.Assignment{ConversationID: conv.ID, AgentID: agentID, BusinessID: businessID, AssignedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"agent_id", "business_id", "assigned_at"}),
		}).Create(&a).Error; err != nil {
			return fmt.Errorf("assignment: record %s: %w", conv.ID, err)
		}
		return nil
	})
	if err != nil {
		return "", e.fail(ctx, chaterr.Infra(err, "assignment: reassign"))
	}
	log.Printf("assignment: conversation %s reassigned to %s (%s)", conversationID, agentID, reason)
	return agentID, nil
}

// Release frees the agent slot held by a business conversation. Releasing
// a conversation without an assignment is a no-op.
func (e *Engine) Release(ctx context.Context, conversationID string) error {
	err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
		return e.ReleaseTx(ctx, tx, conversationID)
	})
	return chaterr.Infra(err, "assignment: release")
}

// ReleaseTx frees the agent slot of conversationID inside tx, so callers
// can commit the release together with their own change.
func (e *Engine) ReleaseTx(ctx context.Context, tx *gorm.DB, conversationID string) error {
	var a models.Assignment
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("conversation_id = ?", conversationID).Limit(1).Find(&a)
	if result.Error != nil {
		return fmt.Errorf("assignment: load %s: %w", conversationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil
	}
	if err := e.releaseTx(tx, a.AgentID); err != nil {
		return e.fail(ctx, err)
	}
	if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.Assignment{}).Error; err != nil {
		return fmt.Errorf("assignment: delete %s: %w", conversationID, err)
	}
	return nil
}

// RegisterAgent creates or updates an agent. Lowering the capacity below
// the agent's open chats is refused.
func (e *Engine) RegisterAgent(ctx context.Context, agent models.Agent) (*models.Agent, error) {
	if err := ids.Check("agent", agent.ID); err != nil {
		return nil, err
	}
	if agent.BusinessID == "" {
		return nil, chaterr.InvalidArgument.With("agent %s needs a business", agent.ID)
	}
	if agent.MaxConcurrentChats <= 0 {
		return nil, chaterr.InvalidArgument.With("max concurrent chats must be positive, got %d", agent.MaxConcurrentChats)
	}
	if agent.Status == "" {
		agent.Status = models.AgentAvailable
	}
	if err := checkStatus(agent.Status); err != nil {
		return nil, err
	}

	var out models.Agent
	err := db.Transact(ctx, e.db, e.timeout, func(tx *gorm.DB) error {
		var existing models.Agent
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", agent.ID).Limit(1).Find(&existing)
		if result.Error != nil {
			return fmt.Errorf("assignment: load agent: %w", result.Error)
		}
		now := e.now()
		if result.RowsAffected == 0 {
			out = models.Agent{
				ID:                 agent.ID,
				BusinessID:         agent.BusinessID,
				Status:             agent.Status,
				MaxConcurrentChats: agent.MaxConcurrentChats,
				UpdatedAt:          now,
			}
			if err := tx.Create(&out).Error; err != nil {
				return fmt.Errorf("assignment: create agent: %w", err)
			}
			return nil
		}
		if existing.CurrentChatCount > agent.MaxConcurrentChats {
			return chaterr.InvalidArgument.With("agent %s has %d open chats, above the new limit %d",
				agent.ID, existing.CurrentChatCount, agent.MaxConcurrentChats)
		}
		if existing.BusinessID != agent.BusinessID && existing.CurrentChatCount > 0 {
			return chaterr.InvalidArgument.With("agent %s still has open chats for business %s", agent.ID, existing.BusinessID)
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", agent.ID).Updates(map[string]interface{}{
			"business_id":          agent.BusinessID,
			"status":               agent.Status,
			"max_concurrent_chats": agent.MaxConcurrentChats,
			"updated_at":           now,
		}).Error; err != nil {
			return fmt.Errorf("assignment: update agent: %w", err)
		}
		return tx.Where("id = ?", agent.ID).First(&out).Error
	})
	if err != nil {
		return nil, chaterr.Infra(err, "assignment: register agent")
	}
	return &out, nil
}

// SetAgentStatus changes an agent's status. An agent going offline hands
// its conversations to colleagues; conversations nobody can take stay put.
// The ids of reassigned conversations are returned.
func (e *Engine) SetAgentStatus(ctx context.Context, agentID, status string) ([]string, error) {
	if err := checkStatus(status); err != nil {
		return nil, err
	}
	conn, cancel := db.Scoped(ctx, e.db, e.timeout)
	result := conn.Model(&models.Agent{}).Where("id = ?", agentID).
		Updates(map[string]interface{}{"status": status, "updated_at": e.now()})
	cancel()
	if result.Error != nil {
		return nil, chaterr.Infra(result.Error, "assignment: set status")
	}
	if result.RowsAffected == 0 {
		return nil, chaterr.AgentNotFound.With("agent %s", agentID)
	}
	if status != models.AgentOffline {
		return nil, nil
	}

	conn, cancel = db.Scoped(ctx, e.db, e.timeout)
	var convIDs []string
	err := conn.Model(&models.Assignment{}).Where("agent_id = ?", agentID).
		Order("assigned_at, conversation_id").Pluck("conversation_id", &convIDs).Error
	cancel()
	if err != nil {
		return nil, chaterr.Infra(err, "assignment: list assignments")
	}

	var moved []string
	for _, id := range convIDs {
		if _, err := e.Reassign(ctx, id, "agent offline"); err != nil {
			if errors.Is(err, chaterr.NoAvailableAgents) {
				log.Printf("assignment: conversation %s stays with offline agent %s: %v", id, agentID, err)
				e.notify(ctx, Notice{Kind: NoticeStranded, ConversationID: id, AgentID: agentID, Detail: err.Error()})
				continue
			}
			return moved, err
		}
		moved = append(moved, id)
	}
	return moved, nil
}

// Agent loads one agent.
func (e *Engine) Agent(ctx context.Context, agentID string) (*models.Agent, error) {
	conn, cancel := db.Scoped(ctx, e.db, e.timeout)
	defer cancel()
	var a models.Agent
	if err := conn.Where("id = ?", agentID).First(&a).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chaterr.AgentNotFound.With("agent %s", agentID)
		}
		return nil, chaterr.Infra(err, "assignment: load agent")
	}
	return &a, nil
}

// ListAgents returns the agents of businessID ordered by id. An empty
// businessID lists every agent.
func (e *Engine) ListAgents(ctx context.Context, businessID string) ([]models.Agent, error) {
	conn, cancel := db.Scoped(ctx, e.db, e.timeout)
	defer cancel()
	q := conn.Order("business_id, id")
	if businessID != "" {
		q = q.Where("business_id = ?", businessID)
	}
	var agents []models.Agent
	if err := q.Find(&agents).Error; err != nil {
		return nil, chaterr.Infra(err, "assignment: list agents")
	}
	return agents, nil
}

func checkStatus(status string) error {
	switch status {
	case models.AgentAvailable, models.AgentBusy, models.AgentOffline:
		return nil
	default:
		return chaterr.InvalidArgument.With("unknown agent status %q", status)
	}
}

// fail logs and reports capacity violations and passes err through.
func (e *Engine) fail(ctx context.Context, err error) error {
	if err != nil && errors.Is(err, chaterr.CapacityViolation) {
		log.Printf("assignment: %v", err)
		e.notify(ctx, Notice{Kind: NoticeCapacityViolation, Detail: err.Error()})
	}
	return err
}

func (e *Engine) notify(ctx context.Context, n Notice) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Printf("assignment: notify: %v", err)
	}
}
