package graphs

import (
	"context"

	"github.com/aescanero/tickgraph/pkg/orchestration"
)

// EchoName is the catalog name of the echo graph
const EchoName = "echo"

// Echo builds a graph whose only node returns its input
func Echo(opts ...orchestration.Option) (orchestration.Executable, error) {
	echo := orchestration.NewNode("echo", func(_ context.Context, _ *orchestration.Properties, in any) (any, error) {
		return in, nil
	}, orchestration.AsDeadEnd())

	orch := orchestration.New[any, any](EchoName, opts...)
	if err := orch.SetEntry(echo); err != nil {
		return nil, err
	}
	if err := orch.SetResult(echo); err != nil {
		return nil, err
	}
	return orch, nil
}
