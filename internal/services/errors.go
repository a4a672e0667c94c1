package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/convene/pkg/errors"
)

// Lifecycle failures. Each is an AppError so the HTTP adapter can render it directly; callers
// match with errors.Is, which compares codes and therefore also matches copies carrying a more
// specific message.
var (
	ErrInvalidTransition = apperrors.New("INVALID_TRANSITION", "Operation is not allowed in the event's current state", http.StatusConflict)
	ErrEventFull         = apperrors.New("EVENT_FULL", "Event is at capacity", http.StatusConflict)
	ErrNotFull           = apperrors.New("EVENT_NOT_FULL", "Event has open seats, RSVP directly", http.StatusConflict)
	ErrAlreadyQueued     = apperrors.New("ALREADY_QUEUED", "User is already on the waitlist", http.StatusConflict)
	ErrNoActiveOffer     = apperrors.New("NO_ACTIVE_OFFER", "No active waitlist offer for this user", http.StatusConflict)
	ErrQuotaExceeded     = apperrors.New("QUOTA_EXCEEDED", "Messaging quota exceeded", http.StatusTooManyRequests)
	ErrNotOrganizer      = apperrors.New("NOT_ORGANIZER", "Only event organizers may perform this action", http.StatusForbidden)
	ErrNotFound          = apperrors.ErrNotFound
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}

func notFoundOr(err error, wrap func(error) error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return wrap(err)
}
