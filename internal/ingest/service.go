package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/dsnplabs/social-gateway/internal/announcement"
	"github.com/dsnplabs/social-gateway/internal/realtime"
	"github.com/dsnplabs/social-gateway/internal/status"
	"github.com/go-playground/validator/v10"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// TransactionType enumerates the account-service webhook transaction kinds.
type TransactionType string

const (
	TransactionAddKey                TransactionType = "ADD_KEY"
	TransactionAddPublicKeyAgreement TransactionType = "ADD_PUBLIC_KEY_AGREEMENT"
	TransactionChangeHandle          TransactionType = "CHANGE_HANDLE"
	TransactionCreateHandle          TransactionType = "CREATE_HANDLE"
	TransactionRetireMSA             TransactionType = "RETIRE_MSA"
	TransactionRevokeDelegation      TransactionType = "REVOKE_DELEGATION"
	TransactionSIWFSignup            TransactionType = "SIWF_SIGNUP"
)

// ValidationError reports the required webhook fields a payload is missing.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

// UnknownTypeError reports a type tag outside the supported enum; an
// explicit reject so forward-compatibility gaps are distinguishable from
// user error.
type UnknownTypeError struct {
	Kind  string
	Value string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

var (
	errMissingStore     = errors.New("announcement store is required")
	errMissingStatus    = errors.New("status store is required")
	errMissingPublisher = errors.New("event publisher is required")
	noOpLogger          = zap.NewNop()
)

// GraphOperationStatus is the graph-service webhook payload.
type GraphOperationStatus struct {
	ReferenceID string `json:"referenceId" validate:"required"`
	Status      string `json:"status" validate:"required"`
}

// AccountTransaction is the account-service webhook payload. Which fields
// are required depends on the transaction type.
type AccountTransaction struct {
	TransactionType string `json:"transactionType"`
	ReferenceID     string `json:"referenceId"`
	MSAID           string `json:"msaId,omitempty"`
	AccountID       string `json:"accountId,omitempty"`
	Handle          string `json:"handle,omitempty"`
	ProviderID      string `json:"providerId,omitempty"`
	NewPublicKey    string `json:"newPublicKey,omitempty"`
}

// Per-transaction-type required-field views; validated with the shared
// validator so error messages enumerate the missing json field names.
type signupFields struct {
	ReferenceID string `json:"referenceId" validate:"required"`
	Handle      string `json:"handle" validate:"required"`
	AccountID   string `json:"accountId" validate:"required"`
}

type handleFields struct {
	ReferenceID string `json:"referenceId" validate:"required"`
	MSAID       string `json:"msaId" validate:"required"`
	Handle      string `json:"handle" validate:"required"`
}

type keyFields struct {
	ReferenceID  string `json:"referenceId" validate:"required"`
	MSAID        string `json:"msaId" validate:"required"`
	NewPublicKey string `json:"newPublicKey" validate:"required"`
}

type msaFields struct {
	ReferenceID string `json:"referenceId" validate:"required"`
	MSAID       string `json:"msaId" validate:"required"`
}

type delegationFields struct {
	ReferenceID string `json:"referenceId" validate:"required"`
	MSAID       string `json:"msaId" validate:"required"`
	ProviderID  string `json:"providerId" validate:"required"`
}

// ServiceConfig wires the webhook ingestion dependencies.
type ServiceConfig struct {
	Store     *announcement.Store
	Status    status.Store
	Publisher realtime.Publisher
	Logger    *zap.Logger
}

// Service is the webhook entry point: it persists pushed announcements,
// tracks asynchronous operation statuses, and fans live events out to
// subscriber streams.
type Service struct {
	store     *announcement.Store
	status    status.Store
	publisher realtime.Publisher
	accounts  *xsync.Map[string, AccountTransaction]
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewService validates dependencies and returns an ingestion Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Status == nil {
		return nil, errMissingStatus
	}
	if cfg.Publisher == nil {
		return nil, errMissingPublisher
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return &Service{
		store:     cfg.Store,
		status:    cfg.Status,
		publisher: cfg.Publisher,
		accounts:  xsync.NewMap[string, AccountTransaction](),
		validate:  validate,
		logger:    logger,
	}, nil
}

// ReceiveAnnouncement persists a pushed announcement and broadcasts the raw
// envelope as an "announcement" live event. The broadcast is notification
// only; the block-range cache picks new announcements up on its next
// lookup.
func (s *Service) ReceiveAnnouncement(ctx context.Context, envelope announcement.Envelope) error {
	if err := envelope.Announcement.Validate(); err != nil {
		if errors.Is(err, announcement.ErrUnknownType) {
			return &UnknownTypeError{Kind: "announcementType", Value: string(envelope.Announcement.Type)}
		}
		if errors.Is(err, announcement.ErrMissingFromID) {
			return &ValidationError{Missing: []string{"fromId"}}
		}
		return err
	}

	if err := s.store.Add(ctx, envelope.BlockNumber, envelope.Announcement); err != nil {
		return err
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Warn("announcement broadcast encoding failed", zap.Error(err))
		return nil
	}
	s.publisher.Publish(realtime.Event{Name: realtime.EventAnnouncement, Data: payload})
	s.logger.Info("announcement ingested",
		zap.String("key", envelope.Announcement.Key(envelope.BlockNumber)),
		zap.String("announcementType", string(envelope.Announcement.Type)))
	return nil
}

// ReceiveGraphOperationStatus records a graph-operation status update.
func (s *Service) ReceiveGraphOperationStatus(ctx context.Context, payload GraphOperationStatus) error {
	if missing := s.missingFields(payload); len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	parsed, err := status.Parse(payload.Status)
	if err != nil {
		return &UnknownTypeError{Kind: "status", Value: payload.Status}
	}
	if err := s.status.Set(ctx, payload.ReferenceID, parsed); err != nil {
		return err
	}
	s.logger.Info("graph operation status updated",
		zap.String("referenceId", payload.ReferenceID),
		zap.String("status", string(parsed)))
	return nil
}

// ReceiveAccountWebhook validates and records an account-service
// transaction webhook. SIWF sign-ups additionally broadcast an
// "account_created" live event.
func (s *Service) ReceiveAccountWebhook(ctx context.Context, txn AccountTransaction) error {
	view, err := s.requiredView(txn)
	if err != nil {
		return err
	}
	if missing := s.missingFields(view); len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}

	s.accounts.Store(txn.ReferenceID, txn)

	if TransactionType(txn.TransactionType) == TransactionSIWFSignup {
		payload, err := json.Marshal(txn)
		if err != nil {
			s.logger.Warn("account event encoding failed", zap.Error(err))
		} else {
			s.publisher.Publish(realtime.Event{Name: realtime.EventAccountCreated, Data: payload})
		}
	}
	s.logger.Info("account transaction recorded",
		zap.String("referenceId", txn.ReferenceID),
		zap.String("transactionType", txn.TransactionType))
	return nil
}

// AccountTransactionByReference looks up a previously recorded account
// transaction.
func (s *Service) AccountTransactionByReference(referenceID string) (AccountTransaction, bool) {
	return s.accounts.Load(referenceID)
}

// requiredView maps a transaction onto the required-field view struct for
// its type; unknown types are rejected explicitly.
func (s *Service) requiredView(txn AccountTransaction) (any, error) {
	switch TransactionType(txn.TransactionType) {
	case TransactionSIWFSignup:
		return signupFields{ReferenceID: txn.ReferenceID, Handle: txn.Handle, AccountID: txn.AccountID}, nil
	case TransactionCreateHandle, TransactionChangeHandle:
		return handleFields{ReferenceID: txn.ReferenceID, MSAID: txn.MSAID, Handle: txn.Handle}, nil
	case TransactionAddKey:
		return keyFields{ReferenceID: txn.ReferenceID, MSAID: txn.MSAID, NewPublicKey: txn.NewPublicKey}, nil
	case TransactionAddPublicKeyAgreement, TransactionRetireMSA:
		return msaFields{ReferenceID: txn.ReferenceID, MSAID: txn.MSAID}, nil
	case TransactionRevokeDelegation:
		return delegationFields{ReferenceID: txn.ReferenceID, MSAID: txn.MSAID, ProviderID: txn.ProviderID}, nil
	default:
		return nil, &UnknownTypeError{Kind: "transactionType", Value: txn.TransactionType}
	}
}

// missingFields runs the shared validator and returns the json names of the
// fields that failed the required rule, sorted for stable messages.
func (s *Service) missingFields(view any) []string {
	err := s.validate.Struct(view)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []string{"payload"}
	}
	missing := make([]string, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		missing = append(missing, fieldError.Field())
	}
	sort.Strings(missing)
	return missing
}
