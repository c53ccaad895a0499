package cli

import (
	"github.com/spf13/afero"

	"github.com/shayonpal/mcp-lifeos/internal/logging"
	"github.com/shayonpal/mcp-lifeos/internal/vault/analytics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/config"
	"github.com/shayonpal/mcp-lifeos/internal/vault/fsio"
	"github.com/shayonpal/mcp-lifeos/internal/vault/linkscan"
	"github.com/shayonpal/mcp-lifeos/internal/vault/metrics"
	"github.com/shayonpal/mcp-lifeos/internal/vault/recovery"
	"github.com/shayonpal/mcp-lifeos/internal/vault/search"
	"github.com/shayonpal/mcp-lifeos/internal/vault/server"
	"github.com/shayonpal/mcp-lifeos/internal/vault/txn"
	"github.com/shayonpal/mcp-lifeos/internal/vault/wal"
)

// container holds every collaborator a subcommand needs, built once per
// invocation from resolved configuration.
type container struct {
	cfg       config.Config
	io        *fsio.Layer
	tool      *server.RenameTool
	searcher  *search.Searcher
	recovery  *recovery.Runner
	analytics *analytics.Recorder
}

func newContainer(vaultRoot string) (*container, error) {
	cfg, err := config.Load(vaultRoot)
	if err != nil {
		return nil, err
	}

	logger := logging.Global()
	fs := afero.NewOsFs()

	io := fsio.New(fs, nil, logger)
	scanner := linkscan.New(fs, logger)
	walMgr := wal.New(cfg.WALDir(), io, logger)
	m := txn.NewManager(cfg.VaultRoot(), io, scanner, walMgr, metrics.Global, logger)
	rec := analytics.New()
	tool := server.New(m, rec, logger)
	searcher := search.New(fs)
	recoveryRunner := recovery.New(walMgr, m, metrics.Global, logger, cfg.RecoveryMinAge())

	return &container{
		cfg:       cfg,
		io:        io,
		tool:      tool,
		searcher:  searcher,
		recovery:  recoveryRunner,
		analytics: rec,
	}, nil
}
