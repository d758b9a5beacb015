// Package gormpersistence 是关系库 (MySQL / SQLite) 上的存储库实现。
package gormpersistence

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// isDuplicateEntryError 判断是否为唯一约束冲突。
// MySQL 通过错误码判断，SQLite 只能检查错误信息。
func isDuplicateEntryError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
