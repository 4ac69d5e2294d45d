package workflow

import (
	"errors"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// isDuplicateTokenErr detects the unique-index violation raised when two
// requests race the same client token. The loser re-reads the winner's
// reservation and returns it as the idempotent outcome.
func isDuplicateTokenErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
