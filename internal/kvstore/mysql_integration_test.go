//go:build integration

package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestMySQLStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := mysql.Run(ctx, "mysql:8.0.36",
		mysql.WithDatabase("notifyd"),
		mysql.WithUsername("notifyd"),
		mysql.WithPassword("notifyd"),
	)
	defer func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "charset=utf8mb4", "parseTime=True")
	require.NoError(t, err)

	s, err := OpenMySQL(dsn, testLogger())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	exerciseStore(t, s)
}
