package signal

import (
	"testing"

	"github.com/yomogy/ito/internal/app"
	"github.com/yomogy/ito/internal/protocol"
	"github.com/yomogy/ito/internal/store"
)

// The request type set is closed: every type in protocol.Requests must
// have exactly one handler, and nothing else may be dispatchable.
func TestDispatchCoversAllRequests(t *testing.T) {
	ctl := NewController(app.NewCoordinator(store.NewMemory()))

	covered := make(map[protocol.Type]bool)
	for _, typ := range ctl.DispatchTypes() {
		covered[typ] = true
	}

	for _, typ := range protocol.Requests {
		if !covered[typ] {
			t.Errorf("request type %q has no handler", typ)
		}
		delete(covered, typ)
	}
	for typ := range covered {
		t.Errorf("handler for %q is not a declared request type", typ)
	}
}
