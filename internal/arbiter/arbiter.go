package arbiter

import (
	"fmt"

	"github.com/fyrsmithlabs/issueflow/internal/config"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"github.com/fyrsmithlabs/issueflow/internal/orchestrator"
)

// New builds the arbiter named by cfg.Provider.
func New(cfg config.ArbiterConfig, logger *logging.Logger) (orchestrator.Arbiter, error) {
	switch cfg.Provider {
	case "", config.ArbiterFirst:
		return First{}, nil
	case config.ArbiterHTTP:
		h, err := NewHTTP(cfg.HTTP, logger)
		if err != nil {
			return nil, err
		}
		return h, nil
	case config.ArbiterBandit:
		return NewBandit(cfg.Bandit.Epsilon, cfg.Bandit.Seed), nil
	default:
		return nil, fmt.Errorf("unknown arbiter provider %q", cfg.Provider)
	}
}
