// Package migrate 用 golang-migrate 执行内嵌 SQL 迁移
package migrate

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator 每次操作新建 migrate 实例, 用完即关, 不占用连接池
type Migrator struct {
	db   *sql.DB
	fsys fs.FS
	path string
	log  *zap.Logger
}

// NewMigrator 校验 fsys 下 path 目录可作为迁移源. log 为 nil 时不输出
func NewMigrator(db *sql.DB, fsys fs.FS, path string, log *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("migration source %q: %w", path, err)
	}
	_ = src.Close()
	if log == nil {
		log = zap.NewNop()
	}
	return &Migrator{db: db, fsys: fsys, path: path, log: log.With(zap.String("migrations", path))}, nil
}

// Up 应用全部未执行的迁移, 已是最新版本不算错误
func (m *Migrator) Up() error {
	return m.run("up", (*migrate.Migrate).Up)
}

// Rollback 回退一个版本
func (m *Migrator) Rollback() error {
	return m.run("rollback", func(mg *migrate.Migrate) error { return mg.Steps(-1) })
}

// Version 当前版本, 未执行过任何迁移时返回 0
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	err = m.with(func(mg *migrate.Migrate) error {
		version, dirty, err = mg.Version()
		return ignoreNilVersion(err)
	})
	return version, dirty, err
}

func (m *Migrator) run(op string, fn func(*migrate.Migrate) error) error {
	return m.with(func(mg *migrate.Migrate) error {
		if err := fn(mg); err != nil {
			if errors.Is(err, migrate.ErrNoChange) {
				m.log.Info("schema unchanged", zap.String("op", op))
				return nil
			}
			return fmt.Errorf("migrate %s: %w", op, err)
		}
		version, dirty, err := mg.Version()
		if err = ignoreNilVersion(err); err != nil {
			return err
		}
		m.log.Info("schema migrated", zap.String("op", op), zap.Uint("version", version), zap.Bool("dirty", dirty))
		return nil
	})
}

func (m *Migrator) with(fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(m.fsys, m.path)
	if err != nil {
		return err
	}
	mg, err := m.open(src)
	if err != nil {
		_ = src.Close()
		return err
	}
	defer mg.Close()
	return fn(mg)
}

func (m *Migrator) open(src source.Driver) (*migrate.Migrate, error) {
	driver, err := postgres.WithInstance(m.db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate postgres driver: %w", err)
	}
	return migrate.NewWithInstance("iofs", src, "postgres", driver)
}

func ignoreNilVersion(err error) error {
	if errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}
	return err
}
