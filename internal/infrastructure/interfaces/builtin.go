package interfaces

import "github.com/pennlinc/qsiprep/internal/ports"

// Builtins returns every interface shipped with qsiprep.
func Builtins() []ports.Interface {
	return []ports.Interface{
		Identity{},
		DataSink{},
		mrconvert(),
		dwidenoise(),
		mrdegibbs(),
		dwi2mask(),
		dwi2response(),
		dwi2fod(),
		mrtrixIngress(),
	}
}
