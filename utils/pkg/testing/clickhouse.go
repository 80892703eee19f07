package truebwtesting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/truebw/rewards/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/truebw/rewards/pkg/clickhouse/testing"
)

// NewClickHouseClient returns a client on a fresh, migrated ClickHouse database.
func NewClickHouseClient(t *testing.T, db *clickhousetesting.DB) clickhouse.Client {
	info, err := clickhousetesting.NewTestClientWithInfo(t, db)
	require.NoError(t, err)
	return info.Client
}
