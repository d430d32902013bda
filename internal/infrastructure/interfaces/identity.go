package interfaces

import (
	"context"

	"github.com/pennlinc/qsiprep/internal/ports"
)

// IdentityName is the interface used by inputnode/outputnode style nodes.
const IdentityName = "identity"

// Identity passes every input through as an output of the same name.
type Identity struct{}

// Name implements ports.Interface.
func (Identity) Name() string { return IdentityName }

// Run implements ports.Interface.
func (Identity) Run(_ context.Context, call ports.InterfaceCall) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(call.Inputs))
	for k, v := range call.Inputs {
		out[k] = v
	}
	return out, nil
}
