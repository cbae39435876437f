package app

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hitoshi/kitchenhub/internal/config"
	"github.com/hitoshi/kitchenhub/internal/database"
	"github.com/hitoshi/kitchenhub/internal/repository"
)

// stores はサーバーが使用するリポジトリ群。STORE_DRIVERに応じて実装が切り替わる。
type stores struct {
	sessions repository.SessionRepository
	members  repository.MembershipRepository
	state    repository.KitchenStateRepository
	closeFn  func() error
}

// Close は下層の接続を閉じる。
func (s *stores) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}

// openStores は設定に応じたストアを開く。
func openStores(cfg *config.Config) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		slog.Warn("using in-memory store; state is lost on restart and sessions must be seeded in-process")
		return newMemoryStores(repository.NewMemoryStore(cfg.RemovalPolicy)), nil
	default:
		db, err := openDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &stores{
			sessions: repository.NewPostgresSessionRepo(db),
			members:  repository.NewPostgresMembershipRepo(db),
			state:    repository.NewPostgresKitchenStateRepo(db, cfg.RemovalPolicy),
			closeFn:  db.Close,
		}, nil
	}
}

func newMemoryStores(mem *repository.MemoryStore) *stores {
	return &stores{sessions: mem, members: mem, state: mem}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}
