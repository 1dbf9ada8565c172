package reconnectpolicy

import (
	"context"
	"errors"

	"github.com/nodalcore/mqttpipe/mqtterr"
)

func ignoreNoNeighbor(err error) error {
	if err == nil || errors.Is(err, mqtterr.ErrNoNeighbor) {
		return nil
	}
	return err
}

// ctxBackground is used for the metrics calls this package makes from
// handler dispatch and timer callbacks, neither of which carry a caller
// context across the pipeline boundary.
func ctxBackground() context.Context { return context.Background() }
