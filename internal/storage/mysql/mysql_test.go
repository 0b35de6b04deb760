package mysql

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"httpetl/internal/schema"
	"httpetl/internal/storage"
	"httpetl/internal/storage/sqldb"
)

func TestMergeSQL(t *testing.T) {
	t.Parallel()

	cols := schema.Schema{{Name: "id", Type: schema.BigInt}, {Name: "v", Type: schema.Text}}
	require.Equal(t,
		"INSERT INTO `t` (`id`, `v`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `v` = VALUES(`v`)",
		Dialect{}.MergeSQL("t", cols, "id", 1))
	require.Equal(t,
		"INSERT INTO `t` (`id`) VALUES (?) ON DUPLICATE KEY UPDATE `id` = `id`",
		Dialect{}.MergeSQL("t", cols[:1], "id", 1))
}

func TestTableExistsSQL(t *testing.T) {
	t.Parallel()

	_, args := Dialect{}.TableExistsSQL("events")
	require.Equal(t, []any{"events"}, args)

	q, args := Dialect{}.TableExistsSQL("dw.events")
	require.Contains(t, q, "table_schema = ?")
	require.Equal(t, []any{"dw", "events"}, args)
}

func TestTypeName_TextKey(t *testing.T) {
	t.Parallel()

	require.Equal(t, "VARCHAR(255)", Dialect{}.TypeName(schema.Text, true))
	require.Equal(t, "LONGTEXT", Dialect{}.TypeName(schema.Text, false))
	require.Equal(t, "JSON", Dialect{}.TypeName(schema.Jsonb, false))
}

func TestIsUndefinedTable(t *testing.T) {
	t.Parallel()

	require.True(t, Dialect{}.IsUndefinedTable(&mysql.MySQLError{Number: 1146}))
	require.False(t, Dialect{}.IsUndefinedTable(&mysql.MySQLError{Number: 1062}))
	require.False(t, Dialect{}.IsUndefinedTable(errors.New("1146")))
}

func TestDSN(t *testing.T) {
	t.Parallel()

	got := DSN(storage.Config{Host: "db", Database: "dw", User: "etl", Password: "pw"})
	mc, err := mysql.ParseDSN(got)
	require.NoError(t, err)
	require.Equal(t, "etl", mc.User)
	require.Equal(t, "pw", mc.Passwd)
	require.Equal(t, "db:3306", mc.Addr)
	require.Equal(t, "dw", mc.DBName)
}

func TestRepository_UpsertWithSQLMock(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	r := sqldb.New(db, Dialect{}, nil)

	cols := schema.Schema{{Name: "id", Type: schema.BigInt}, {Name: "v", Type: schema.Text}}
	q := Dialect{}.MergeSQL("t", cols, "id", 1)

	mock.ExpectExec(regexp.QuoteMeta(q)).WithArgs(int64(1), "a").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	require.NoError(t, r.Exec(context.Background(), q, int64(1), "a"))
	r.Close()
	require.NoError(t, mock.ExpectationsWereMet())
}
