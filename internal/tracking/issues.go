package tracking

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"delivery-tracker/internal/validator"
)

// ReportIssue records a problem on the current delivery. Offline the issue is
// stored with a local id; online it is delegated to the IssueService and only
// recorded once acknowledged.
func (s *Store) ReportIssue(ctx context.Context, issueType, severity, description string) bool {
	s.mu.Lock()
	deliveryID := s.state.DeliveryID
	if deliveryID == "" {
		s.mu.Unlock()
		return false
	}

	report := IssueReport{
		DeliveryID:  deliveryID,
		Type:        strings.TrimSpace(issueType),
		Severity:    strings.TrimSpace(severity),
		Description: strings.TrimSpace(description),
	}
	if err := validator.ValidateStruct(report); err != nil {
		s.mu.Unlock()
		s.log.Warn("Rejected issue report", zap.Error(err))
		return false
	}

	if s.state.Offline {
		issue := Issue{
			ID:          s.localIssueIDLocked(),
			Type:        report.Type,
			Severity:    report.Severity,
			Description: report.Description,
			Timestamp:   s.now(),
		}
		s.state.Issues = append(s.state.Issues, issue)
		s.touchLocked()
		s.persistLocked()
		s.mu.Unlock()

		s.log.Info("Issue recorded offline", zap.String("issue_id", issue.ID))
		return true
	}
	gen := s.generation
	s.mu.Unlock()

	if s.issues == nil {
		return false
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	issueID, err := s.issues.ReportIssue(ackCtx, report)
	if err != nil {
		s.log.Warn("Issue report failed",
			zap.String("delivery_id", deliveryID),
			zap.Error(err),
		)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}
	if issueID != "" {
		s.mergeIssueLocked(Issue{
			ID:          issueID,
			Type:        report.Type,
			Severity:    report.Severity,
			Description: report.Description,
			Timestamp:   s.now(),
		})
		s.touchLocked()
		s.persistLocked()
	}
	return true
}

// ResolveIssue marks an issue resolved. Resolving an unknown id offline
// returns false and changes nothing. Issues that only exist locally are
// resolved locally even when online.
func (s *Store) ResolveIssue(ctx context.Context, issueID, resolutionNotes string) bool {
	s.mu.Lock()
	if s.state.DeliveryID == "" || issueID == "" {
		s.mu.Unlock()
		return false
	}

	idx := s.issueIndexLocked(issueID)
	if s.state.Offline || (idx >= 0 && s.state.Issues[idx].IsLocal()) {
		defer s.mu.Unlock()
		if idx < 0 {
			return false
		}
		s.resolveLocked(idx, resolutionNotes)
		return true
	}
	gen := s.generation
	s.mu.Unlock()

	if s.issues == nil {
		return false
	}

	ackCtx, cancel := context.WithTimeout(ctx, s.ackTimeout)
	defer cancel()

	if err := s.issues.ResolveIssue(ackCtx, issueID, resolutionNotes); err != nil {
		s.log.Warn("Issue resolution failed",
			zap.String("issue_id", issueID),
			zap.Error(err),
		)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		return false
	}
	if idx := s.issueIndexLocked(issueID); idx >= 0 {
		s.resolveLocked(idx, resolutionNotes)
	}
	return true
}

func (s *Store) resolveLocked(idx int, notes string) {
	issue := &s.state.Issues[idx]
	if issue.Resolved {
		return
	}
	issue.Resolved = true
	issue.ResolutionNotes = notes
	s.touchLocked()
	s.persistLocked()
}

func (s *Store) issueIndexLocked(issueID string) int {
	for i := range s.state.Issues {
		if s.state.Issues[i].ID == issueID {
			return i
		}
	}
	return -1
}

// mergeIssueLocked adds a server-issued issue. A known id is ignored; a local
// issue with the same type and description reported within the match window
// adopts the server id instead of producing a duplicate.
func (s *Store) mergeIssueLocked(issue Issue) {
	if s.issueIndexLocked(issue.ID) >= 0 {
		return
	}

	for i := range s.state.Issues {
		local := &s.state.Issues[i]
		if !local.IsLocal() || local.Type != issue.Type || local.Description != issue.Description {
			continue
		}
		delta := issue.Timestamp.Sub(local.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= s.issueMatchWindow {
			s.log.Info("Reconciled local issue with service id",
				zap.String("local_id", local.ID),
				zap.String("issue_id", issue.ID),
			)
			local.ID = issue.ID
			local.Severity = issue.Severity
			if issue.Resolved && !local.Resolved {
				local.Resolved = true
				local.ResolutionNotes = issue.ResolutionNotes
			}
			return
		}
	}

	s.state.Issues = append(s.state.Issues, issue)
}

func (s *Store) localIssueIDLocked() string {
	base := fmt.Sprintf("%s%d", LocalIssuePrefix, s.now().UnixMilli())
	id := base
	for n := 1; s.issueIndexLocked(id) >= 0; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}
