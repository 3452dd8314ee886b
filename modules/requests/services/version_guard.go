package services

import (
	"strconv"
	"strings"

	"github.com/civicworks/civicdesk/modules/requests/domain/servicerequest"
)

// parseVersionToken validates the caller-asserted version token. A missing
// token and a malformed one are distinct client errors; neither touches the
// store.
func parseVersionToken(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, newServiceError(400, "REQUESTS_VERSION_REQUIRED", "version token is required for mutating requests", nil)
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, newServiceError(400, "REQUESTS_VERSION_INVALID", "version token must be an integer", err)
	}
	if v < 1 {
		return 0, newServiceError(400, "REQUESTS_VERSION_INVALID", "version token must be positive", nil)
	}
	return v, nil
}

// checkVersion is the fast-path optimistic check against the row read inside
// the transaction. The conditional UPDATE remains authoritative; this only
// produces a better error without attempting the write.
func checkVersion(current *servicerequest.ServiceRequest, expected int64) error {
	if current.Version == expected {
		return nil
	}
	recordWriteConflict("version")
	return versionConflictError(current.Version, expected)
}

func versionConflictError(current, expected int64) *ServiceError {
	return newServiceErrorWithMeta(409, "REQUESTS_VERSION_CONFLICT", "stored version differs from the expected version", map[string]string{
		"current_version":  strconv.FormatInt(current, 10),
		"expected_version": strconv.FormatInt(expected, 10),
	})
}
