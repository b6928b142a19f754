package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/kardex-io/kardex/internal/common"
	"github.com/kardex-io/kardex/internal/interfaces"
	"github.com/kardex-io/kardex/internal/models"
)

// Review lifecycle errors the HTTP layer maps onto the response taxonomy.
var (
	// ErrNotAssigned rejects approving a card without an employee.
	ErrNotAssigned = errors.New("work card has no assigned employee")

	// ErrSiteRequired rejects approving a card without a site. Site is
	// optional at ingest but required before approval.
	ErrSiteRequired = errors.New("work card has no site assigned")

	// ErrAlreadyApproved rejects re-approving an APPROVED card.
	ErrAlreadyApproved = errors.New("work card is already approved")

	// ErrNotReviewable rejects approving a REJECTED card.
	ErrNotReviewable = errors.New("work card is not awaiting review")

	// ErrCardImmutable rejects day-entry edits on an APPROVED card. Changing
	// approved data goes through a new card and the override protocol.
	ErrCardImmutable = errors.New("approved card entries cannot be edited")
)

// LockedDayError rejects a day-entry edit that would change an
// approval-locked day. The HTTP layer maps it to 409 with the days.
type LockedDayError struct {
	Days []int
}

func (e *LockedDayError) Error() string {
	return fmt.Sprintf("days %v are locked by an approved card", e.Days)
}

// Service orchestrates the review lifecycle: approval with carry-forward,
// rejection, day-entry edit validation and conflict reporting.
type Service struct {
	cards      interfaces.WorkCardStorage
	entries    interfaces.DayEntryStorage
	events     interfaces.EventService
	clock      interfaces.Clock
	logger     arbor.ILogger
	newEntryID func() string
}

// NewService creates the reconciliation service.
func NewService(cards interfaces.WorkCardStorage, entries interfaces.DayEntryStorage, events interfaces.EventService, clock interfaces.Clock, logger arbor.ILogger) *Service {
	return &Service{
		cards:      cards,
		entries:    entries,
		events:     events,
		clock:      clock,
		logger:     logger,
		newEntryID: common.NewEntryID,
	}
}

// ApproveRequest carries one approval attempt.
type ApproveRequest struct {
	BusinessID              string
	CardID                  string
	UserID                  string
	OverrideConflictDays    []int
	ConfirmOverrideApproved bool
}

// ApproveResult reports what the approval changed.
type ApproveResult struct {
	Card               *models.WorkCard `json:"card"`
	CarriedForwardDays []int            `json:"carried_forward_days"`
	OverriddenDays     []int            `json:"overridden_days"`
	DeletedEntries     int              `json:"deleted_entries"`
}

// Approve runs the approval protocol: plan the carry-forward diff against the
// immediate previous card, apply it with the approval stamp in one
// transaction, and publish the transition.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*ApproveResult, error) {
	card, err := s.cards.GetForBusiness(ctx, req.BusinessID, req.CardID)
	if err != nil {
		return nil, err
	}

	switch card.ReviewStatus {
	case models.ReviewStatusApproved:
		return nil, ErrAlreadyApproved
	case models.ReviewStatusRejected:
		return nil, ErrNotReviewable
	}
	if card.EmployeeID == nil {
		return nil, ErrNotAssigned
	}
	if card.SiteID == nil {
		return nil, ErrSiteRequired
	}

	previous, previousEntries, err := s.previousContext(ctx, card)
	if err != nil {
		return nil, err
	}
	currentEntries, err := s.entries.ListByCard(ctx, card.ID)
	if err != nil {
		return nil, fmt.Errorf("loading card entries: %w", err)
	}

	previousApproved := previous != nil && previous.IsApproved()
	plan, err := PlanCarryForward(card.ID, currentEntries, previousEntries, previousApproved, req.OverrideConflictDays, req.ConfirmOverrideApproved, s.newEntryID)
	if err != nil {
		return nil, err
	}

	approvedAt := s.clock.Now()
	apply := interfaces.ApprovalApply{
		CardID:         card.ID,
		ApprovedBy:     req.UserID,
		ApprovedAt:     approvedAt,
		DeleteEntryIDs: plan.DeleteEntryIDs,
		InsertEntries:  plan.InsertEntries,
	}
	if err := s.cards.ApplyApproval(ctx, apply); err != nil {
		return nil, fmt.Errorf("applying approval: %w", err)
	}
	card.MarkApproved(req.UserID, approvedAt)

	s.logger.Info().
		Str("work_card_id", card.ID).
		Str("approved_by", req.UserID).
		Int("carried_forward", len(plan.CarriedForwardDays)).
		Int("overridden", len(plan.OverriddenDays)).
		Int("deleted", len(plan.DeleteEntryIDs)).
		Msg("Work card approved")
	s.publish(ctx, interfaces.EventCardApproved, card)

	return &ApproveResult{
		Card:               card,
		CarriedForwardDays: plan.CarriedForwardDays,
		OverriddenDays:     plan.OverriddenDays,
		DeletedEntries:     len(plan.DeleteEntryIDs),
	}, nil
}

// Reject moves a card to REJECTED from any state.
func (s *Service) Reject(ctx context.Context, businessID, cardID string) (*models.WorkCard, error) {
	card, err := s.cards.GetForBusiness(ctx, businessID, cardID)
	if err != nil {
		return nil, err
	}
	card.MarkRejected()
	if err := s.cards.Update(ctx, card); err != nil {
		return nil, fmt.Errorf("rejecting card: %w", err)
	}
	s.logger.Info().Str("work_card_id", card.ID).Msg("Work card rejected")
	s.publish(ctx, interfaces.EventCardRejected, card)
	return card, nil
}

// ValidateEntryReplacement guards a bulk day-entry replace: APPROVED cards
// are immutable, and days locked by an approved previous card reject any
// signature change. Equal-signature writes pass.
func (s *Service) ValidateEntryReplacement(ctx context.Context, card *models.WorkCard, proposed []*models.DayEntry) error {
	if card.ReviewStatus == models.ReviewStatusApproved {
		return ErrCardImmutable
	}

	previous, previousEntries, err := s.previousContext(ctx, card)
	if err != nil {
		return err
	}
	if previous == nil || !previous.IsApproved() {
		return nil
	}
	if violations := LockedDayViolations(proposed, previousEntries, true); len(violations) > 0 {
		return &LockedDayError{Days: violations}
	}
	return nil
}

// DayConflicts classifies the card's days against its immediate previous
// card for the review UI.
func (s *Service) DayConflicts(ctx context.Context, card *models.WorkCard) ([]DayConflict, error) {
	previous, previousEntries, err := s.previousContext(ctx, card)
	if err != nil {
		return nil, err
	}
	currentEntries, err := s.entries.ListByCard(ctx, card.ID)
	if err != nil {
		return nil, fmt.Errorf("loading card entries: %w", err)
	}
	previousApproved := previous != nil && previous.IsApproved()
	conflicts := ClassifyConflicts(currentEntries, previousEntries, previousApproved)
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Day < conflicts[j].Day })
	return conflicts, nil
}

// previousContext loads the immediate previous card and its entries for the
// same employee and month. Unassigned cards have no previous context.
func (s *Service) previousContext(ctx context.Context, card *models.WorkCard) (*models.WorkCard, []*models.DayEntry, error) {
	if card.EmployeeID == nil {
		return nil, nil, nil
	}
	previous, err := s.cards.PreviousCard(ctx, card.BusinessID, *card.EmployeeID, card.ProcessingMonth, card.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("loading previous card: %w", err)
	}
	previousEntries, err := s.entries.ListByCard(ctx, previous.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading previous card entries: %w", err)
	}
	return previous, previousEntries, nil
}

func (s *Service) publish(ctx context.Context, eventType interfaces.EventType, card *models.WorkCard) {
	if s.events == nil {
		return
	}
	event := interfaces.Event{
		Type: eventType,
		Payload: map[string]interface{}{
			"work_card_id":  card.ID,
			"business_id":   card.BusinessID,
			"review_status": string(card.ReviewStatus),
			"month":         card.MonthKey(),
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Failed to publish card event")
	}
}
