package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/civicworks/civicdesk/modules/requests/domain/servicerequest"
)

func mapStoreError(err error) error {
	if err == nil {
		return nil
	}

	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	if errors.Is(err, servicerequest.ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return newServiceError(http.StatusNotFound, "REQUESTS_NOT_FOUND", "service request not found", err)
	}

	var conflict *servicerequest.VersionConflictError
	if errors.As(err, &conflict) {
		recordWriteConflict("version")
		return versionConflictError(conflict.Current, conflict.Expected)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			recordWriteConflict("unique")
			if pgErr.ConstraintName == "service_requests_code_key" {
				return newServiceError(http.StatusConflict, "REQUESTS_CODE_CONFLICT", "request code already exists", err)
			}
			return newServiceError(http.StatusConflict, "REQUESTS_CONFLICT", "unique constraint violated", err)
		default:
			return newServiceError(http.StatusInternalServerError, "REQUESTS_INTERNAL", fmt.Sprintf("database error (%s)", pgErr.Code), err)
		}
	}

	return newServiceError(http.StatusInternalServerError, "REQUESTS_INTERNAL", "storage failure", err)
}
