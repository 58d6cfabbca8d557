package service

import (
	"net/http"

	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
)

var ErrScheduleNotFound = commonerrors.NewDomainError(
	"SCHEDULE_NOT_FOUND",
	commonerrors.CategoryNotFound,
	http.StatusNotFound,
	"schedule not found",
)
