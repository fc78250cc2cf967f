package auth

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"

	"quoteflow/internal/config"
	"quoteflow/internal/domain"
)

// ForbiddenError is a generic denial. It deliberately does not say which
// actors would have been allowed.
type ForbiddenError struct {
	Op string
}

func (e ForbiddenError) Error() string {
	return "not allowed: " + e.Op
}

// IsForbidden reports whether err is an authorization denial.
func IsForbidden(err error) bool {
	var fe ForbiddenError
	return errors.As(err, &fe)
}

// Service answers role questions from the loaded config: the owner, the
// managers below it, and per-request assigned developers.
type Service struct {
	Config *config.Config
}

func (s Service) RequireOwner(actorID, op string) error {
	if s.Config == nil || !s.Config.IsOwner(actorID) {
		return ForbiddenError{Op: op}
	}
	return nil
}

func (s Service) RequireAdmin(actorID, op string) error {
	if s.Config == nil || !s.Config.IsAdmin(actorID) {
		return ForbiddenError{Op: op}
	}
	return nil
}

// RequireAssigned allows administrators and the request's assigned
// developers.
func (s Service) RequireAssigned(req domain.Request, actorID, op string) error {
	if s.Config != nil && s.Config.IsAdmin(actorID) {
		return nil
	}
	if _, ok := req.Assignments[actorID]; ok {
		return nil
	}
	return ForbiddenError{Op: op}
}

// RequireAssignedDev allows only the request's assigned developers,
// administrators excluded.
func (s Service) RequireAssignedDev(req domain.Request, actorID, op string) error {
	if _, ok := req.Assignments[actorID]; ok {
		return nil
	}
	return ForbiddenError{Op: op}
}

// SubmitterHash derives the short obfuscated identity shown to the developer
// pool: the first ten hex chars of SHA-1(submitterID + salt).
func SubmitterHash(submitterID, salt string) string {
	sum := sha1.Sum([]byte(submitterID + salt))
	return hex.EncodeToString(sum[:])[:10]
}
