package survival

import (
	"fmt"
	"strings"

	"gocutoff/internal/errors"
	"gocutoff/ports"
)

// Model names accepted by New
const (
	ModelCox     = "cox"
	ModelLogRank = "logrank"
)

// New returns the survival model registered under name
func New(name string) (ports.SurvivalModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ModelCox:
		return NewCoxModel(), nil
	case ModelLogRank, "log-rank", "log_rank":
		return NewLogRankModel(), nil
	default:
		return nil, errors.ConfigurationError(fmt.Sprintf("unknown survival model %q", name))
	}
}
