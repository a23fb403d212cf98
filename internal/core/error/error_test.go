package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindAndStatusSurviveWrapping(t *testing.T) {
	base := errors.New("smtp: 421 service not available")
	err := fmt.Errorf("send email: %w", Integration("email", base))

	assert.Equal(t, KindIntegration, KindOf(err))
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Equal(t, IntegrationErrorMessage, MessageOf(err))
	assert.ErrorIs(t, err, base)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, KindIntegration, appErr.Kind)
}

func TestNilWrappersStayNil(t *testing.T) {
	assert.NoError(t, Integration("calendar", nil))
	assert.NoError(t, KnowledgeBase(nil))
	assert.NoError(t, Transport(nil))
	assert.NoError(t, WrapRedis(nil))
	assert.NoError(t, WrapPostgres(nil))
}

func TestStorageWrappersMapNotFound(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "redis nil", err: WrapRedis(redis.Nil), status: http.StatusNotFound},
		{name: "redis failure", err: WrapRedis(errors.New("connection refused")), status: http.StatusBadGateway},
		{name: "no rows", err: WrapPostgres(pgx.ErrNoRows), status: http.StatusNotFound},
		{name: "pg failure", err: WrapPostgres(errors.New("timeout")), status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, StatusOf(tt.err))
			assert.Equal(t, KindStorage, KindOf(tt.err))
		})
	}
}

func TestUnknownErrorsDefaultToInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
	assert.Equal(t, SystemErrorMessage, MessageOf(err))

	v := Validation("message is empty")
	assert.Equal(t, "message is empty", v.Error())
	assert.Equal(t, http.StatusBadRequest, StatusOf(v))
}
