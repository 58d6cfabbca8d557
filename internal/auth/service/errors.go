package service

import (
	"net/http"

	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
)

var (
	ErrInvalidCredentials = commonerrors.NewDomainError(
		"INVALID_CREDENTIALS",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid email or password",
	)

	ErrAlreadyExists = commonerrors.NewDomainError(
		"ALREADY_EXISTS",
		commonerrors.CategoryConflict,
		http.StatusBadRequest,
		"user with this email already exists",
	)

	// ErrInvalidOrExpiredRefresh is the single answer for any refresh token
	// that cannot be exchanged. The concrete reason only goes to the log.
	ErrInvalidOrExpiredRefresh = commonerrors.NewDomainError(
		"INVALID_REFRESH_TOKEN",
		commonerrors.CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid or expired refresh token",
	)
)
