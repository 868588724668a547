package quereus

import (
	"sync"

	"github.com/quereus/quereus/qerr"
	"github.com/quereus/quereus/sql"
)

// optionRegistry backs Database.SetOption/GetOption: writes to
// unknown keys are accepted and stored (a silent no-op from the engine's
// point of view — nothing reads them), reads of never-written keys error
// with NOT_FOUND. The asymmetry keeps host integrations forward-compatible
// with newer pragmas while still catching read-side typos.
type optionRegistry struct {
	mu   sync.RWMutex
	vals map[string]sql.Value
}

func newOptionRegistry() *optionRegistry {
	return &optionRegistry{vals: map[string]sql.Value{}}
}

func (o *optionRegistry) SetOption(name string, value sql.Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.vals[name] = value
	return nil
}

func (o *optionRegistry) GetOption(name string) (sql.Value, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.vals[name]
	if !ok {
		return sql.Value{}, qerr.NotFoundf("unknown option %q", name)
	}
	return v, nil
}
