package ledger

import (
	"context"
	"errors"
	"fmt"

	"vsdnetwork/docstore"
)

// CollectionApplications holds advertiser applications, one per account,
// keyed by uid.
const CollectionApplications = "advertiserApplications"

// ApplicationStatus is the review state of an advertiser application.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "Pending"
	ApplicationApproved ApplicationStatus = "Approved"
	ApplicationRejected ApplicationStatus = "Rejected"
)

var (
	// ErrApplicationPending is returned when the account already has an
	// application awaiting review.
	ErrApplicationPending = errors.New("ledger: application already pending")
	// ErrApplicationDecided is returned when a decision targets an
	// application that was already approved or rejected.
	ErrApplicationDecided = errors.New("ledger: application already decided")
	// ErrApplicationNotFound is returned when no application exists for the uid.
	ErrApplicationNotFound = errors.New("ledger: application not found")
	// ErrAlreadyAdvertiser is returned when the applicant already holds the role.
	ErrAlreadyAdvertiser = errors.New("ledger: account already has the advertiser role")
)

// AdvertiserApplication is the review document for one advertiser request.
type AdvertiserApplication struct {
	UID         string            `json:"uid"`
	CompanyName string            `json:"companyName"`
	Message     string            `json:"message,omitempty"`
	Status      ApplicationStatus `json:"status"`
	SubmittedAt string            `json:"submittedAt"`
	DecidedAt   string            `json:"decidedAt,omitempty"`
	DecidedBy   string            `json:"decidedBy,omitempty"`
	Rationale   string            `json:"rationale,omitempty"`
}

// ApplyAdvertiser files an advertiser application for the account. A rejected
// application may be refiled; a pending one may not, and accounts that already
// hold the role are turned away.
func (s *Service) ApplyAdvertiser(ctx context.Context, uid, companyName, message string) (*AdvertiserApplication, error) {
	if companyName == "" {
		return nil, errors.New("ledger: company name required")
	}
	var application AdvertiserApplication
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		account, err := s.ActiveAccountTx(tx, uid)
		if err != nil {
			return err
		}
		if account.HasRole(RoleAdvertiser) {
			return ErrAlreadyAdvertiser
		}
		var existing AdvertiserApplication
		err = tx.Get(CollectionApplications, uid, &existing)
		if err == nil && existing.Status == ApplicationPending {
			return ErrApplicationPending
		}
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		application = AdvertiserApplication{
			UID:         uid,
			CompanyName: companyName,
			Message:     message,
			Status:      ApplicationPending,
			SubmittedAt: formatDate(s.nowFn()),
		}
		return tx.Set(CollectionApplications, uid, &application)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("advertiser application filed", "uid", uid, "company", companyName)
	return &application, nil
}

// DecideApplication settles a pending advertiser application exactly once.
// Approval grants the advertiser role in the same atomic unit as the decision
// record, so the role can never be granted twice or without a decision trail.
func (s *Service) DecideApplication(ctx context.Context, uid string, approve bool, rationale, decidedBy string) (*AdvertiserApplication, error) {
	var application AdvertiserApplication
	err := s.store.RunTransaction(ctx, func(tx *docstore.Tx) error {
		err := tx.Get(CollectionApplications, uid, &application)
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrApplicationNotFound
		}
		if err != nil {
			return err
		}
		if application.Status != ApplicationPending {
			return ErrApplicationDecided
		}

		application.Status = ApplicationRejected
		if approve {
			application.Status = ApplicationApproved
		}
		application.DecidedAt = formatDate(s.nowFn())
		application.DecidedBy = decidedBy
		application.Rationale = rationale
		if err := tx.Set(CollectionApplications, uid, &application); err != nil {
			return err
		}

		if approve {
			account, err := getAccount(tx, uid)
			if err != nil {
				return err
			}
			account.Roles = NormalizeRoles(append(account.Roles, RoleAdvertiser))
			if err := tx.Set(CollectionAccounts, uid, account); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("advertiser application decided", "uid", uid, "status", string(application.Status), "by", decidedBy)
	return &application, nil
}

// ListApplications returns every advertiser application, pending first.
func (s *Service) ListApplications(ctx context.Context) ([]AdvertiserApplication, error) {
	docs, err := s.store.List(ctx, CollectionApplications)
	if err != nil {
		return nil, err
	}
	pending := make([]AdvertiserApplication, 0, len(docs))
	decided := make([]AdvertiserApplication, 0, len(docs))
	for _, doc := range docs {
		var application AdvertiserApplication
		if err := doc.Decode(&application); err != nil {
			return nil, fmt.Errorf("ledger: decode application %s: %w", doc.ID, err)
		}
		if application.Status == ApplicationPending {
			pending = append(pending, application)
		} else {
			decided = append(decided, application)
		}
	}
	return append(pending, decided...), nil
}
