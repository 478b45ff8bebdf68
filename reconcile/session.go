/*
session.go - Ingestion pipeline state machine

PURPOSE:
  One Session carries one uploaded report batch through the fixed stage
  order:

    Uploaded -> Matched -> Corrected -> Aggregated -> Validated -> Merged
                                                                \-> Rejected

  No stage may be skipped. Rejected is terminal: a batch that failed the
  master check cannot be resumed, it must be re-uploaded after the master
  is fixed. A duplicate-period merge failure is the one recoverable stop:
  the session stays Validated and Merge can be retried with replacement
  confirmed.

SEE ALSO:
  - match.go, corrections.go, aggregate.go, validate.go, cumulative.go:
    The stage implementations this file sequences
*/
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// =============================================================================
// STATES
// =============================================================================

// SessionState is one pipeline stage.
type SessionState string

const (
	StateUploaded   SessionState = "uploaded"
	StateMatched    SessionState = "matched"
	StateCorrected  SessionState = "corrected"
	StateAggregated SessionState = "aggregated"
	StateValidated  SessionState = "validated"
	StateMerged     SessionState = "merged"
	StateRejected   SessionState = "rejected"
)

// nextState encodes the only legal forward transition per stage. Rejection
// is reachable from any non-terminal stage and is handled separately.
var nextState = map[SessionState]SessionState{
	StateUploaded:   StateMatched,
	StateMatched:    StateCorrected,
	StateCorrected:  StateAggregated,
	StateAggregated: StateValidated,
	StateValidated:  StateMerged,
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline bundles the engine components a session runs against.
type Pipeline struct {
	Master      *MasterIndex
	Corrections *CorrectionSet
	Cumulative  *CumulativeStore
	// DirectKeyword overrides the direct-channel studio keyword; empty
	// means the default.
	DirectKeyword string
	Log           logrus.FieldLogger
}

// SessionOptions describes one batch run.
type SessionOptions struct {
	Year  int
	Month time.Month
	// Replace confirms overwriting an already-merged period.
	Replace bool
}

// Validate checks the option bag once, at the boundary. Stage code can then
// trust the values.
func (o SessionOptions) Validate() error {
	if o.Year < 2000 || o.Year > 2999 {
		return fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, o.Year)
	}
	if o.Month < time.January || o.Month > time.December {
		return fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, o.Month)
	}
	return nil
}

// Session is one batch in flight.
type Session struct {
	ID      uuid.UUID
	Period  Period
	State   SessionState
	Options SessionOptions

	pipeline *Pipeline
	log      logrus.FieldLogger

	records   []SalesRecord
	matched   []MatchedRecord
	unmatched []string
	corrected []MatchedRecord
	version   uint64

	// Result is populated once the session reaches Aggregated.
	Result *AggregationResult
	// RejectReason is set when the session reaches Rejected.
	RejectReason error
}

// NewSession opens a session for one uploaded batch.
func (p *Pipeline) NewSession(records []SalesRecord, opts SessionOptions) (*Session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := p.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	id := uuid.New()
	s := &Session{
		ID:       id,
		Period:   NewPeriod(opts.Year, opts.Month),
		State:    StateUploaded,
		Options:  opts,
		pipeline: p,
		log: log.WithFields(logrus.Fields{
			"session": id.String(),
			"period":  NewPeriod(opts.Year, opts.Month).Key(),
		}),
		records: records,
	}
	s.log.WithField("records", len(records)).Info("batch uploaded")
	return s, nil
}

func (s *Session) advance(to SessionState) error {
	if s.State == StateRejected {
		return ErrSessionRejected
	}
	if nextState[s.State] != to {
		return &TransitionError{From: s.State, To: to}
	}
	s.State = to
	return nil
}

func (s *Session) reject(reason error) error {
	s.State = StateRejected
	s.RejectReason = reason
	s.log.WithError(reason).Warn("batch rejected")
	return reason
}

// MatchRecords resolves the batch against the master. Unmatched labels are
// collected here but the rejection is deferred to Validate, so the operator
// report covers the fully matched-and-aggregated picture alongside the
// failures.
func (s *Session) MatchRecords() error {
	if err := s.advance(StateMatched); err != nil {
		return err
	}
	s.matched, s.unmatched = s.pipeline.Master.MatchBatch(s.records)
	s.log.WithFields(logrus.Fields{
		"matched":   len(s.matched),
		"unmatched": len(s.unmatched),
	}).Info("batch matched")
	return nil
}

// ApplyCorrections rewrites assignees through the live correction set and
// records the version the batch reflects.
func (s *Session) ApplyCorrections() error {
	if err := s.advance(StateCorrected); err != nil {
		return err
	}
	s.corrected, s.version = s.pipeline.Corrections.Apply(s.matched, s.Period)
	s.log.WithField("correction_version", s.version).Info("corrections applied")
	return nil
}

// AggregateBatch computes the period result.
func (s *Session) AggregateBatch() error {
	if err := s.advance(StateAggregated); err != nil {
		return err
	}
	s.Result = Aggregate(s.corrected, s.Period, AggregateOptions{
		DirectKeyword:     s.pipeline.DirectKeyword,
		CorrectionVersion: s.version,
	})
	s.log.WithFields(logrus.Fields{
		"total":   s.Result.Total.String(),
		"schools": s.Result.SchoolCount,
	}).Info("batch aggregated")
	return nil
}

// ValidateBatch gates the result. Unmatched schools or a consistency
// violation move the session to Rejected, which is terminal.
func (s *Session) ValidateBatch() error {
	if err := s.advance(StateValidated); err != nil {
		return err
	}
	if err := Validate(s.Result, s.unmatched); err != nil {
		return s.reject(err)
	}
	s.log.Info("batch validated")
	return nil
}

// MergeBatch folds the validated result into the cumulative store. On a
// duplicate period without replacement the session stays Validated so the
// caller can confirm and retry.
func (s *Session) MergeBatch() error {
	if s.State != StateValidated {
		if s.State == StateRejected {
			return ErrSessionRejected
		}
		return &TransitionError{From: s.State, To: StateMerged}
	}
	err := s.pipeline.Cumulative.Merge(s.Result, MergeOptions{Replace: s.Options.Replace})
	if err != nil {
		s.log.WithError(err).Warn("merge refused")
		return err
	}
	s.State = StateMerged
	s.log.Info("batch merged")
	return nil
}

// Run drives the full stage order. The returned error is the first stage
// failure; inspect the session state to distinguish a terminal rejection
// from a retryable duplicate-period stop.
func (s *Session) Run() error {
	steps := []func() error{
		s.MatchRecords,
		s.ApplyCorrections,
		s.AggregateBatch,
		s.ValidateBatch,
		s.MergeBatch,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
