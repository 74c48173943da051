package db

import (
	"context"
	"fmt"

	"github.com/arwahdevops/dbmigrate/internal/utils"
)

// Inspector answers row and value counts on the target.
type Inspector struct {
	conn *Connector
}

// Inspector returns the data inspector of the connection.
func (c *Connector) Inspector() *Inspector {
	return &Inspector{conn: c}
}

// CountRows returns the number of rows in table.
func (i *Inspector) CountRows(ctx context.Context, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", utils.QuoteIdentifier(table, i.conn.Dialect))
	return i.count(ctx, query)
}

// CountNonNullValues returns the number of rows where column is not NULL.
func (i *Inspector) CountNonNullValues(ctx context.Context, table, column string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(%s) FROM %s",
		utils.QuoteIdentifier(column, i.conn.Dialect),
		utils.QuoteIdentifier(table, i.conn.Dialect))
	return i.count(ctx, query)
}

func (i *Inspector) count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := i.conn.DB.WithContext(ctx).Raw(query).Scan(&n).Error; err != nil {
		return 0, fmt.Errorf("query %q: %w", query, err)
	}
	return n, nil
}
