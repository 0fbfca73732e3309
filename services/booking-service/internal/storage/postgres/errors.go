package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/backoffice/services/booking-service/internal/storage"
)

const (
	codeExclusionViolation = "23P01"
	codeUniqueViolation    = "23505"
	codeForeignKey         = "23503"
	codeLockNotAvailable   = "55P03"
	codeQueryCanceled      = "57014"

	idempotencyConstraint = "appointments_idempotency_key_key"
)

func IsConflict(err error) bool {
	return hasCode(err, codeExclusionViolation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// translate maps driver errors onto the domain taxonomy. what names the row
// for not-found errors.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeExclusionViolation:
		return &model.ConflictError{ResourceID: conflictResource(pgErr.Detail)}
	case codeUniqueViolation:
		if pgErr.ConstraintName == idempotencyConstraint {
			return storage.ErrDuplicateKey
		}
	case codeForeignKey:
		return fmt.Errorf("%s: %w: %s", what, model.ErrNotFound, pgErr.Detail)
	case codeLockNotAvailable, codeQueryCanceled:
		return fmt.Errorf("%w: %s", model.ErrTimeout, pgErr.Message)
	}
	return err
}

// conflictResource pulls the resource id out of an exclusion violation
// detail such as "Key (resource_id, period)=(<id>, [...)) conflicts with ...".
func conflictResource(detail string) string {
	_, rest, ok := strings.Cut(detail, ")=(")
	if !ok {
		return ""
	}
	id, _, ok := strings.Cut(rest, ",")
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

// validIDs reports whether every id is a UUID. Other ids cannot exist in
// the database and are treated as missing.
func validIDs(ids ...string) bool {
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return false
		}
	}
	return true
}
