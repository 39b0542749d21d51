// Package domain implements the mutual-boost exchange protocol over a shared
// account pool.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrOutOfWindow is returned when the request arrives outside the campaign window.
	ErrOutOfWindow = errors.New("activity window closed")
	// ErrInvalidCode is returned for codes that fail shape validation.
	ErrInvalidCode = errors.New("malformed boost code")
	// ErrCodeAlreadyUsed is returned when a code has already completed its exchange today.
	ErrCodeAlreadyUsed = errors.New("boost code already consumed")
	// ErrNoHelperAvailable is returned when every account has spent its helper slot.
	ErrNoHelperAvailable = errors.New("no helper account available")
	// ErrNoHelpedAvailable is returned when every account has spent its helped slot.
	ErrNoHelpedAvailable = errors.New("no helped account available")
	// ErrNoReturnCode is returned when no code remains to hand back to the caller.
	ErrNoReturnCode = errors.New("no return code available")
)

// ExternalError carries the upstream rejection message for a boost call that
// reached the third-party service and was refused.
type ExternalError struct {
	Msg string
}

func (e *ExternalError) Error() string {
	return "boost rejected upstream: " + e.Msg
}

// BoostStatus classifies the outcome of an upstream boost call.
type BoostStatus string

const (
	BoostAccepted     BoostStatus = "accepted"
	BoostRejected     BoostStatus = "rejected"      // upstream answered with status != 1
	BoostTimeout      BoostStatus = "timeout"       // transport retries exhausted
	BoostInvalidReply BoostStatus = "invalid_reply" // undecodable response body
	BoostSystemError  BoostStatus = "system_error"
)

// BoostResult is the decoded outcome of an upstream boost call.
type BoostResult struct {
	Status  BoostStatus
	Message string
}

// OK reports whether the upstream service accepted the boost.
func (r BoostResult) OK() bool {
	return r.Status == BoostAccepted
}

// BoostClient submits a boost for code using an account's session credential.
// Transport faults are folded into the result, never surfaced as errors.
type BoostClient interface {
	Submit(ctx context.Context, code, credential string) BoostResult
}

// Allocator hands out pool accounts under row locks and records participation.
type Allocator interface {
	// CodeConflict reports whether code already has both a Helper and a Helped
	// record for day. Fast-path check only; the transactional selections below
	// are the actual correctness guarantee.
	CodeConflict(ctx context.Context, code string, day int) (bool, error)
	Begin(ctx context.Context) (AllocationTx, error)
}

// AllocationTx is a transaction-scoped view of the pool. Selections hold
// their row locks until Commit or Rollback, and concurrent selections skip
// rows locked by other transactions instead of queuing behind them.
type AllocationTx interface {
	// SelectHelper locks and returns the lowest-id account that has not
	// played Helper today, provided code has not already received a boost.
	// Returns nil when no eligible account exists.
	SelectHelper(ctx context.Context, day int, code string) (*Account, error)
	// SelectHelped locks and returns the lowest-id account that has not
	// played Helped today. Returns nil when no eligible account exists.
	SelectHelped(ctx context.Context, day int) (*Account, error)
	// SelectReturnCode returns the code of the lowest-id account not yet
	// Helped today whose own code differs from excludeCode. Plain read, no
	// lock. Returns "" when no eligible account exists.
	SelectReturnCode(ctx context.Context, day int, excludeCode string) (string, error)
	// SaveRecord appends an activity record, filling its ID and CreatedAt.
	SaveRecord(ctx context.Context, rec *ActivityRecord) error
	// Nested runs fn inside a savepoint scope. fn returning an error rolls
	// the savepoint back and propagates the error.
	Nested(ctx context.Context, fn func(AllocationTx) error) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Service owns the end-to-end help protocol.
type Service struct {
	alloc  Allocator
	client BoostClient
	window Window
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithNow overrides the clock, for tests that pin the activity day.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService constructs a Service.
func NewService(alloc Allocator, client BoostClient, window Window, opts ...Option) *Service {
	s := &Service{
		alloc:  alloc,
		client: client,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessHelp runs the full exchange for a submitted code and returns the
// code the caller should boost in return.
//
// Both record writes happen inside one enclosing transaction; the helped
// write additionally runs inside a savepoint so its failure can be told apart
// from the helper write. Any failure before Commit rolls everything back,
// releasing the helper's row lock and daily slot.
func (s *Service) ProcessHelp(ctx context.Context, code string) (string, error) {
	day := s.now().YearDay()

	if !s.window.Contains(day) {
		log.Printf("help request outside active window: day=%d", day)
		return "", ErrOutOfWindow
	}
	if !ValidCode(code) {
		return "", ErrInvalidCode
	}

	conflict, err := s.alloc.CodeConflict(ctx, code, day)
	if err != nil {
		return "", fmt.Errorf("duplicate check: %w", err)
	}
	if conflict {
		return "", ErrCodeAlreadyUsed
	}

	tx, err := s.alloc.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin allocation: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	helper, err := tx.SelectHelper(ctx, day, code)
	if err != nil {
		return "", fmt.Errorf("select helper: %w", err)
	}
	if helper == nil {
		return "", ErrNoHelperAvailable
	}

	result := s.client.Submit(ctx, code, helper.Cookies)
	if !result.OK() {
		// A failed upstream call leaves no trace: the rollback releases the
		// helper's lock without consuming its daily slot.
		log.Printf("upstream boost refused: status=%s msg=%q", result.Status, result.Message)
		return "", &ExternalError{Msg: result.Message}
	}

	// The upstream side effect now exists, so the writes must run to
	// completion even if the caller has gone away.
	wctx := context.WithoutCancel(ctx)

	err = tx.SaveRecord(wctx, &ActivityRecord{
		AccountID: helper.ID,
		DayNumber: day,
		Role:      RoleHelper,
		HelpCode:  code,
	})
	if err != nil {
		return "", fmt.Errorf("save helper record: %w", err)
	}

	err = tx.Nested(wctx, func(ntx AllocationTx) error {
		helped, err := ntx.SelectHelped(wctx, day)
		if err != nil {
			return fmt.Errorf("select helped: %w", err)
		}
		if helped == nil {
			return ErrNoHelpedAvailable
		}
		return ntx.SaveRecord(wctx, &ActivityRecord{
			AccountID: helped.ID,
			DayNumber: day,
			Role:      RoleHelped,
			HelpCode:  code,
		})
	})
	if err != nil {
		return "", err
	}

	returnCode, err := tx.SelectReturnCode(wctx, day, code)
	if err != nil {
		return "", fmt.Errorf("select return code: %w", err)
	}
	if returnCode == "" {
		return "", ErrNoReturnCode
	}

	if err := tx.Commit(wctx); err != nil {
		return "", fmt.Errorf("commit allocation: %w", err)
	}
	return returnCode, nil
}
