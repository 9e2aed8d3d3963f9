// Package migrations 内嵌数据库迁移文件
package migrations

import "embed"

// FS 迁移文件
//
//go:embed sql/*.sql
var FS embed.FS

// Path FS 中迁移文件目录
const Path = "sql"
