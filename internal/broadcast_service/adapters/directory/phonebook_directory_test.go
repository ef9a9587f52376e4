package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aradsms/broadcast_gateway/internal/broadcast_service/domain"
)

func newMockDirectory(t *testing.T) (pgxmock.PgxPoolIface, *PhonebookDirectory) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)
	return mockPool, NewPhonebookDirectory(mockPool, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPhonebookDirectory_LookupGroup_ByName(t *testing.T) {
	mockPool, dir := newMockDirectory(t)
	groupID := uuid.NewString()

	mockPool.ExpectQuery(`SELECT id::text, name FROM phonebooks WHERE name = \$1`).
		WithArgs("Barangay Staff").
		WillReturnRows(mockPool.NewRows([]string{"id", "name"}).AddRow(groupID, "Barangay Staff"))
	mockPool.ExpectQuery(`SELECT number FROM contacts`).
		WithArgs(groupID).
		WillReturnRows(mockPool.NewRows([]string{"number"}).AddRow("09171234567").AddRow("+639181234567"))

	group, err := dir.LookupGroup(context.Background(), " Barangay Staff ")
	require.NoError(t, err)
	assert.Equal(t, groupID, group.ID)
	assert.Equal(t, "Barangay Staff", group.Name)
	assert.Equal(t, []string{"09171234567", "+639181234567"}, group.Members)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPhonebookDirectory_LookupGroup_ByID(t *testing.T) {
	mockPool, dir := newMockDirectory(t)
	groupID := uuid.New()

	mockPool.ExpectQuery(`SELECT id::text, name FROM phonebooks WHERE id = \$1`).
		WithArgs(groupID).
		WillReturnRows(mockPool.NewRows([]string{"id", "name"}).AddRow(groupID.String(), "Empty"))
	mockPool.ExpectQuery(`SELECT number FROM contacts`).
		WithArgs(groupID.String()).
		WillReturnRows(mockPool.NewRows([]string{"number"}))

	group, err := dir.LookupGroup(context.Background(), groupID.String())
	require.NoError(t, err)
	assert.Empty(t, group.Members)
	assert.NotNil(t, group.Members)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPhonebookDirectory_LookupGroup_NotFound(t *testing.T) {
	mockPool, dir := newMockDirectory(t)
	mockPool.ExpectQuery(`SELECT id::text, name FROM phonebooks`).
		WithArgs("nobody").
		WillReturnError(pgx.ErrNoRows)

	_, err := dir.LookupGroup(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPhonebookDirectory_LookupGroup_QueryError(t *testing.T) {
	mockPool, dir := newMockDirectory(t)
	dbErr := errors.New("connection reset")
	mockPool.ExpectQuery(`SELECT id::text, name FROM phonebooks`).
		WithArgs("staff").
		WillReturnError(dbErr)

	_, err := dir.LookupGroup(context.Background(), "staff")
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, domain.ErrGroupNotFound)
}

func TestPhonebookDirectory_LookupGroup_Blank(t *testing.T) {
	_, dir := newMockDirectory(t)
	_, err := dir.LookupGroup(context.Background(), "  ")
	assert.ErrorIs(t, err, domain.ErrGroupNotFound)
}
