package errx

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"
)

// WrapPostgres maps pgx errors to AppError; missing rows become 404.
func WrapPostgres(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return &AppError{Kind: KindStorage, Err: err, Status: http.StatusNotFound, Message: NotFoundMessage}
	}

	return &AppError{Kind: KindStorage, Err: err, Status: http.StatusBadGateway, Message: PostgresErrorMessage}
}
