package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/comic-tracker/internal/catalog"
	"github.com/JakeFAU/comic-tracker/internal/comic"
)

var rowColumns = []string{
	"id", "titles", "current_chap", "viewed_chap", "cover", "last_update", "com_type", "status",
	"published_in", "genres", "author", "description", "track", "rating", "deleted",
}

// updateArgs matches the UPDATE bind values of any entry with id.
func updateArgs(id int64) []any {
	args := make([]any, 0, 16)
	for range 15 {
		args = append(args, pgxmock.AnyArg())
	}
	return append(args, id)
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return mock, store
}

func TestNewWithPoolRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "comics; DROP TABLE x")
	require.Error(t, err)
	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}

func TestInsertReturnsID(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	entry := comic.Entry{
		Titles:         []string{"Solo leveling"},
		CurrentChapter: 102,
		LastUpdate:     now,
		Type:           comic.TypeManhwa,
		Status:         comic.StatusOnAir,
		Publishers:     []comic.Publisher{comic.PublisherAsura},
	}

	mock.ExpectQuery("INSERT INTO comics").
		WithArgs(
			[]string{"Solo leveling"},
			102,
			0,
			"",
			now,
			int(comic.TypeManhwa),
			int(comic.StatusOnAir),
			[]int32{int32(comic.PublisherAsura)},
			[]int32{},
			"",
			"",
			false,
			0,
			false,
			[]string{"solo leveling"},
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	require.NoError(t, store.Insert(context.Background(), &entry))
	require.Equal(t, int64(42), entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM comics WHERE id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows(rowColumns))

	_, err := store.Get(context.Background(), 9)
	require.True(t, errors.Is(err, comic.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTitleScansRows(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(rowColumns).
		AddRow(int64(1), []string{"Omniscient reader"}, 200, 198, "https://c/1.webp", now,
			int(comic.TypeManhwa), int(comic.StatusOnAir), []int32{1, 4}, []int32{1}, "", "", true, 5, false)

	mock.ExpectQuery(regexp.QuoteMeta("unnest(title_keys)")).
		WithArgs("%omniscient reader%").
		WillReturnRows(rows)

	got, err := store.FindByTitle(context.Background(), "Omniscient READER")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(1), got[0].ID)
	require.Equal(t, []comic.Publisher{comic.PublisherAsura, comic.PublisherFlameScans}, got[0].Publishers)
	require.Equal(t, []comic.Genre{comic.GenreAction}, got[0].Genres)
	require.Equal(t, comic.TypeManhwa, got[0].Type)
	require.True(t, got[0].Track)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTitleUsesUnicodeFolding(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("LIKE").
		WithArgs("%die strasse%").
		WillReturnRows(pgxmock.NewRows(rowColumns))

	_, err := store.FindByTitle(context.Background(), "Die Straße")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTitleEscapesWildcards(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("LIKE").
		WithArgs(`%100\% pure\_love%`).
		WillReturnRows(pgxmock.NewRows(rowColumns))

	got, err := store.FindByTitle(context.Background(), "100% pure_love")
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRow(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("UPDATE comics SET").
		WithArgs(
			[]string{"x"},
			0,
			0,
			"",
			pgxmock.AnyArg(),
			int(comic.TypeUnknown),
			int(comic.StatusUnknown),
			[]int32{},
			[]int32{},
			"",
			"",
			false,
			0,
			false,
			[]string{"x"},
			int64(5),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Update(context.Background(), comic.Entry{ID: 5, Titles: []string{"x"}})
	require.True(t, errors.Is(err, comic.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxCommits(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE comics SET").
		WithArgs(updateArgs(1)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM comics WHERE id = $1")).
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx catalog.Tx) error {
		if err := tx.Update(context.Background(), comic.Entry{ID: 1, Titles: []string{"a"}}); err != nil {
			return err
		}
		return tx.Delete(context.Background(), 2)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLocksRowInsideTx(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM comics WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(rowColumns).
			AddRow(int64(3), []string{"Nano machine"}, 10, 9, "", now,
				int(comic.TypeManhwa), int(comic.StatusOnAir), []int32{1}, []int32{}, "", "", true, 0, false))
	mock.ExpectCommit()

	err := store.InTx(context.Background(), func(tx catalog.Tx) error {
		e, err := tx.Get(context.Background(), 3)
		if err != nil {
			return err
		}
		require.Equal(t, 9, e.ViewedChapter)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	boom := errors.New("constraint violated")
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE comics SET").
		WithArgs(updateArgs(1)...).
		WillReturnError(boom)
	mock.ExpectRollback()

	err := store.InTx(context.Background(), func(tx catalog.Tx) error {
		return tx.Update(context.Background(), comic.Entry{ID: 1, Titles: []string{"a"}})
	})
	require.True(t, errors.Is(err, boom))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaginates(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectQuery("WHERE deleted = false ORDER BY id LIMIT").
		WithArgs(10, 20).
		WillReturnRows(pgxmock.NewRows(rowColumns))

	got, err := store.List(context.Background(), 20, 10)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}
