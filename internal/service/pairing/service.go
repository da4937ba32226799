// Package pairing keeps every Clinic and its mirrored Account consistent.
// It is the only code path that writes either side of a pair: each operation
// runs in one transaction, and files written before the transaction are
// removed again when it fails.
package pairing

import (
	"context"
	stderrors "errors"
	"fmt"
	"mime/multipart"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kapixcr/BioNote/internal/model"
	"github.com/kapixcr/BioNote/internal/repository"
	"github.com/kapixcr/BioNote/internal/upload"
	"github.com/kapixcr/BioNote/pkg/errors"
	"github.com/kapixcr/BioNote/pkg/logger"
	"github.com/kapixcr/BioNote/pkg/metrics"
	"github.com/kapixcr/BioNote/pkg/security"
)

const (
	msgEmailTaken      = "The email has already been taken."
	msgUsuarioTaken    = "The usuario has already been taken."
	msgUsuarioRequired = "The usuario field is required."
)

type Service struct {
	store   repository.Store
	hasher  security.PasswordHasher
	intake  *upload.Intake
	metrics *metrics.Metrics
	log     *logger.Logger
	now     func() time.Time
}

func NewService(store repository.Store, hasher security.PasswordHasher, intake *upload.Intake, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		store:   store,
		hasher:  hasher,
		intake:  intake,
		metrics: m,
		log:     log.With("service", "pairing"),
		now:     time.Now,
	}
}

// RegisterInput is a clinic registration. Logo comes from Form when a file
// was uploaded, otherwise from LogoURL.
type RegisterInput struct {
	Clinic               model.Clinic
	Password             string
	PasswordConfirmation string
	Form                 *multipart.Form
	LogoURL              string
}

// ClinicUpdate is a partial clinic update. A nil Password leaves the hash unchanged.
type ClinicUpdate struct {
	Patch                model.ClinicPatch
	Password             *string
	PasswordConfirmation string
	Form                 *multipart.Form
	LogoURL              *string
}

// AccountUpdate is a partial account update.
type AccountUpdate struct {
	Name     *string
	Email    *string
	Password *string
	Role     *string
}

// CreatePair registers a clinic together with its mirrored account. The
// password is hashed once and the same hash is stored on both rows.
func (s *Service) CreatePair(ctx context.Context, in RegisterInput) (*model.Clinic, error) {
	clinic := in.Clinic
	clinic.Email = model.NormalizeEmail(clinic.Email)
	clinic.Usuario = strings.TrimSpace(clinic.Usuario)
	clinic.Pais = strings.ToUpper(strings.TrimSpace(clinic.Pais))

	fields := map[string][]string{}
	if clinic.Usuario == "" {
		fields["usuario"] = []string{msgUsuarioRequired}
	}
	if in.Password != in.PasswordConfirmation {
		fields["repetir_password"] = []string{"The repetir_password and password must match."}
	}
	if len(in.Password) < security.MinPasswordLen {
		fields["password"] = []string{fmt.Sprintf("The password must be at least %d characters.", security.MinPasswordLen)}
	}
	if !clinic.AceptaTerminos {
		fields["acepta_terminos"] = []string{"The acepta_terminos must be accepted."}
	}
	if !clinic.AceptaTratamientoDatos {
		fields["acepta_tratamiento_datos"] = []string{"The acepta_tratamiento_datos must be accepted."}
	}
	if err := s.checkUnique(ctx, s.store, fields, clinic.Email, clinic.Usuario, uuid.Nil, uuid.Nil); err != nil {
		return nil, errors.Internal(err)
	}
	if len(fields) > 0 {
		s.metrics.ObserveRegistration("invalid")
		return nil, errors.Validation(fields)
	}

	stored, err := s.intake.Logo(in.Form, in.LogoURL)
	if err != nil {
		s.metrics.ObserveRegistration("invalid")
		return nil, err
	}
	cleanup := func() {
		if stored != nil && stored.File != "" {
			s.intake.Remove(upload.SubdirLogos, stored.File)
		}
	}
	if stored != nil {
		clinic.Logo = &stored.Ref
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		cleanup()
		return nil, errors.Internal(fmt.Errorf("hash password: %w", err))
	}

	now := s.now()
	clinic.ID = uuid.Nil
	clinic.Touch(now)
	clinic.PasswordHash = hash
	account := &model.Account{
		Name:         clinic.Responsable,
		Email:        clinic.Email,
		PasswordHash: hash,
		Role:         model.RoleUser,
	}
	account.Touch(now)

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Clinics().Create(ctx, &clinic); err != nil {
			return err
		}
		return tx.Accounts().Create(ctx, account)
	})
	if err != nil {
		cleanup()
		s.metrics.ObserveRegistration("failed")
		return nil, s.writeError(err, "register clinic")
	}

	s.metrics.ObserveRegistration("created")
	s.log.Info("clinic registered", "clinic_id", clinic.ID.String(), "account_id", account.ID.String())
	return &clinic, nil
}

// UpdateFromClinic applies a partial clinic update and propagates name,
// email and password hash to the mirrored account, found by the clinic's
// email before the update. A clinic whose mirror is missing gets one
// re-created from its current state.
func (s *Service) UpdateFromClinic(ctx context.Context, id uuid.UUID, in ClinicUpdate) (*model.Clinic, error) {
	current, err := s.store.Clinics().Get(ctx, id)
	if err != nil {
		return nil, s.readError(err, "clinic")
	}

	oldEmail := current.Email
	oldLogo := current.Logo
	updated := *current
	in.Patch.Apply(&updated)
	if in.Patch.Pais != nil {
		updated.Pais = strings.ToUpper(strings.TrimSpace(updated.Pais))
	}
	updated.Usuario = strings.TrimSpace(updated.Usuario)

	mirror, err := s.store.Accounts().GetByEmail(ctx, oldEmail)
	if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Internal(err)
	}
	mirrorID := uuid.Nil
	if mirror != nil {
		mirrorID = mirror.ID
	}

	fields := map[string][]string{}
	if updated.Usuario == "" {
		fields["usuario"] = []string{msgUsuarioRequired}
	}
	if in.Password != nil {
		if *in.Password != in.PasswordConfirmation {
			fields["repetir_password"] = []string{"The repetir_password and password must match."}
		}
		if len(*in.Password) < security.MinPasswordLen {
			fields["password"] = []string{fmt.Sprintf("The password must be at least %d characters.", security.MinPasswordLen)}
		}
	}
	email, usuario := "", ""
	if updated.Email != oldEmail {
		email = updated.Email
	}
	if updated.Usuario != current.Usuario {
		usuario = updated.Usuario
	}
	if err := s.checkUnique(ctx, s.store, fields, email, usuario, id, mirrorID); err != nil {
		return nil, errors.Internal(err)
	}
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	logoURL := ""
	if in.LogoURL != nil {
		logoURL = *in.LogoURL
	}
	stored, err := s.intake.Logo(in.Form, logoURL)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		if stored != nil && stored.File != "" {
			s.intake.Remove(upload.SubdirLogos, stored.File)
		}
	}
	if stored != nil {
		updated.Logo = &stored.Ref
	}

	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			cleanup()
			return nil, errors.Internal(fmt.Errorf("hash password: %w", err))
		}
		updated.PasswordHash = hash
	}

	now := s.now()
	updated.UpdatedAt = now

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Clinics().Update(ctx, &updated); err != nil {
			return err
		}

		account, err := tx.Accounts().GetByEmail(ctx, oldEmail)
		if stderrors.Is(err, repository.ErrNotFound) {
			repaired := &model.Account{
				Name:         updated.Responsable,
				Email:        updated.Email,
				PasswordHash: updated.PasswordHash,
				Role:         model.RoleUser,
			}
			repaired.Touch(now)
			s.log.Warn("mirrored account missing, re-creating", "clinic_id", id.String())
			return tx.Accounts().Create(ctx, repaired)
		}
		if err != nil {
			return err
		}

		if in.Patch.Responsable != nil {
			account.Name = updated.Responsable
		}
		account.Email = updated.Email
		if in.Password != nil {
			account.PasswordHash = updated.PasswordHash
		}
		account.UpdatedAt = now
		return tx.Accounts().Update(ctx, account)
	})
	if err != nil {
		cleanup()
		return nil, s.writeError(err, "update clinic")
	}

	if stored != nil && oldLogo != nil && *oldLogo != stored.Ref {
		s.intake.Remove(upload.SubdirLogos, *oldLogo)
	}
	return &updated, nil
}

// DeleteByClinic removes a clinic, its mirrored account and every token of both.
func (s *Service) DeleteByClinic(ctx context.Context, id uuid.UUID) error {
	var clinic *model.Clinic
	var photos []string

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		var err error
		clinic, err = tx.Clinics().Get(ctx, id)
		if err != nil {
			return err
		}

		account, err := tx.Accounts().GetByEmail(ctx, clinic.Email)
		switch {
		case stderrors.Is(err, repository.ErrNotFound):
		case err != nil:
			return err
		default:
			if photos, err = photosOf(ctx, tx, account.ID); err != nil {
				return err
			}
			if err := deleteAccount(ctx, tx, account.ID); err != nil {
				return err
			}
		}

		if _, err := tx.Tokens().DeleteByPrincipal(ctx, model.PrincipalClinic, clinic.ID); err != nil {
			return err
		}
		return tx.Clinics().Delete(ctx, clinic.ID)
	})
	if err != nil {
		return s.deleteError(err, "clinic")
	}

	if clinic.Logo != nil {
		s.intake.Remove(upload.SubdirLogos, *clinic.Logo)
	}
	s.intake.Remove(upload.SubdirPhotos, photos...)
	s.log.Info("clinic deleted", "clinic_id", id.String())
	return nil
}

// UpdateFromAccount applies a partial account update and propagates name,
// email and password hash to the clinic sharing the account's previous email.
func (s *Service) UpdateFromAccount(ctx context.Context, id uuid.UUID, in AccountUpdate) (*model.Account, error) {
	current, err := s.store.Accounts().Get(ctx, id)
	if err != nil {
		return nil, s.readError(err, "account")
	}

	oldEmail := current.Email
	updated := *current
	if in.Name != nil {
		updated.Name = strings.TrimSpace(*in.Name)
	}
	if in.Email != nil {
		updated.Email = model.NormalizeEmail(*in.Email)
	}
	if in.Role != nil {
		updated.Role = *in.Role
	}

	mirror, err := s.store.Clinics().GetByEmail(ctx, oldEmail)
	if err != nil && !stderrors.Is(err, repository.ErrNotFound) {
		return nil, errors.Internal(err)
	}
	mirrorID := uuid.Nil
	if mirror != nil {
		mirrorID = mirror.ID
	}

	fields := map[string][]string{}
	if in.Password != nil && len(*in.Password) < security.MinPasswordLen {
		fields["password"] = []string{fmt.Sprintf("The password must be at least %d characters.", security.MinPasswordLen)}
	}
	email := ""
	if updated.Email != oldEmail {
		email = updated.Email
	}
	if err := s.checkUnique(ctx, s.store, fields, email, "", mirrorID, id); err != nil {
		return nil, errors.Internal(err)
	}
	if len(fields) > 0 {
		return nil, errors.Validation(fields)
	}

	if in.Password != nil {
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, errors.Internal(fmt.Errorf("hash password: %w", err))
		}
		updated.PasswordHash = hash
	}
	now := s.now()
	updated.UpdatedAt = now

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		if err := tx.Accounts().Update(ctx, &updated); err != nil {
			return err
		}

		clinic, err := tx.Clinics().GetByEmail(ctx, oldEmail)
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if in.Name != nil {
			clinic.Responsable = updated.Name
		}
		clinic.Email = updated.Email
		if in.Password != nil {
			clinic.PasswordHash = updated.PasswordHash
		}
		clinic.UpdatedAt = now
		return tx.Clinics().Update(ctx, clinic)
	})
	if err != nil {
		return nil, s.writeError(err, "update account")
	}
	return &updated, nil
}

// DeleteByAccount removes an account and the clinic sharing its email.
func (s *Service) DeleteByAccount(ctx context.Context, id uuid.UUID) error {
	var clinic *model.Clinic
	var photos []string

	err := s.store.WithTx(ctx, func(tx repository.Store) error {
		account, err := tx.Accounts().Get(ctx, id)
		if err != nil {
			return err
		}

		clinic, err = tx.Clinics().GetByEmail(ctx, account.Email)
		switch {
		case stderrors.Is(err, repository.ErrNotFound):
			clinic = nil
		case err != nil:
			return err
		default:
			if _, err := tx.Tokens().DeleteByPrincipal(ctx, model.PrincipalClinic, clinic.ID); err != nil {
				return err
			}
			if err := tx.Clinics().Delete(ctx, clinic.ID); err != nil {
				return err
			}
		}

		if photos, err = photosOf(ctx, tx, account.ID); err != nil {
			return err
		}
		return deleteAccount(ctx, tx, account.ID)
	})
	if err != nil {
		return s.deleteError(err, "account")
	}

	if clinic != nil && clinic.Logo != nil {
		s.intake.Remove(upload.SubdirLogos, *clinic.Logo)
	}
	s.intake.Remove(upload.SubdirPhotos, photos...)
	s.log.Info("account deleted", "account_id", id.String())
	return nil
}

// SetPasswordByEmail replaces the password of the account with email and of
// its clinic, then revokes every token of both.
func (s *Service) SetPasswordByEmail(ctx context.Context, email, password string) error {
	email = model.NormalizeEmail(email)
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if stderrors.Is(err, security.ErrPasswordTooShort) {
			return errors.Field("password", fmt.Sprintf("The password must be at least %d characters.", security.MinPasswordLen))
		}
		return errors.Internal(fmt.Errorf("hash password: %w", err))
	}
	now := s.now()

	err = s.store.WithTx(ctx, func(tx repository.Store) error {
		account, err := tx.Accounts().GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		account.PasswordHash = hash
		account.UpdatedAt = now
		if err := tx.Accounts().Update(ctx, account); err != nil {
			return err
		}
		if _, err := tx.Tokens().DeleteByPrincipal(ctx, model.PrincipalAccount, account.ID); err != nil {
			return err
		}

		clinic, err := tx.Clinics().GetByEmail(ctx, email)
		if stderrors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		clinic.PasswordHash = hash
		clinic.UpdatedAt = now
		if err := tx.Clinics().Update(ctx, clinic); err != nil {
			return err
		}
		_, err = tx.Tokens().DeleteByPrincipal(ctx, model.PrincipalClinic, clinic.ID)
		return err
	})
	if err != nil {
		return s.readError(err, "account")
	}
	return nil
}

// CheckEmail adds a field error when email is used by any account or clinic
// other than the excluded ones.
func (s *Service) CheckEmail(ctx context.Context, fields map[string][]string, email string, excludeClinic, excludeAccount uuid.UUID) error {
	return s.checkUnique(ctx, s.store, fields, model.NormalizeEmail(email), "", excludeClinic, excludeAccount)
}

// checkUnique enforces email uniqueness across both tables and usuario
// uniqueness among clinics. Empty values are not checked.
func (s *Service) checkUnique(ctx context.Context, store repository.Store, fields map[string][]string, email, usuario string, excludeClinic, excludeAccount uuid.UUID) error {
	if email != "" {
		taken, err := store.Clinics().EmailTaken(ctx, email, excludeClinic)
		if err != nil {
			return err
		}
		if !taken {
			if taken, err = store.Accounts().EmailTaken(ctx, email, excludeAccount); err != nil {
				return err
			}
		}
		if taken {
			fields["email"] = append(fields["email"], msgEmailTaken)
		}
	}
	if usuario != "" {
		taken, err := store.Clinics().UsuarioTaken(ctx, usuario, excludeClinic)
		if err != nil {
			return err
		}
		if taken {
			fields["usuario"] = append(fields["usuario"], msgUsuarioTaken)
		}
	}
	return nil
}

// writeError maps a failed transaction. A uniqueness violation that slipped
// past the pre-checks is still reported against its field.
func (s *Service) writeError(err error, op string) error {
	if stderrors.Is(err, repository.ErrDuplicate) {
		if strings.Contains(err.Error(), "usuario") {
			return errors.Conflict("usuario", msgUsuarioTaken, err)
		}
		return errors.Conflict("email", msgEmailTaken, err)
	}
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NotFound("record", err)
	}
	s.log.Error(err, op+" failed")
	return errors.Internal(fmt.Errorf("%s: %w", op, err))
}

func (s *Service) readError(err error, resource string) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NotFound(resource, err)
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return errors.Internal(err)
}

func (s *Service) deleteError(err error, resource string) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NotFound(resource, err)
	}
	s.log.Error(err, "delete "+resource+" failed")
	return errors.Internal(err)
}

func deleteAccount(ctx context.Context, tx repository.Store, id uuid.UUID) error {
	if _, err := tx.Tokens().DeleteByPrincipal(ctx, model.PrincipalAccount, id); err != nil {
		return err
	}
	return tx.Accounts().Delete(ctx, id)
}

// photosOf collects the stored photo names of every test record owned by
// accountID, which the account deletion cascades away.
func photosOf(ctx context.Context, tx repository.Store, accountID uuid.UUID) ([]string, error) {
	var names []string
	filter := model.TestRecordFilter{UserID: &accountID, Pagination: model.Pagination{Page: 1, PerPage: model.MaxPerPage}}
	for {
		page, err := tx.TestRecords().List(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, r := range page.Items {
			names = append(names, r.Fotos...)
		}
		if filter.Offset()+len(page.Items) >= page.Total || len(page.Items) == 0 {
			return names, nil
		}
		filter.Page++
	}
}
