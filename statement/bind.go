package statement

import (
	"fmt"
	"strconv"

	"github.com/mevdschee/pgshim/model"
)

// BindInt64 implements the int64 bind entrypoint (spec.md §4.2 "Bind
// algorithm"): it resolves the host's 1-based index into the internal
// per-parameter scratch slot. The value is not forwarded to the shadow
// statement; none of the Bind* methods touch it.
func (e *Engine) BindInt64(s *model.Statement, hostIndex int, value int64) error {
	s.Lock()
	defer s.Unlock()
	idx := hostIndex - 1
	if idx < 0 || idx >= len(s.ParamScratch) {
		growParamScratch(s, idx+1)
	}
	s.ParamScratch[idx] = []byte(strconv.FormatInt(value, 10))
	advanceBindState(s)
	return nil
}

// BindDouble implements the double bind entrypoint.
func (e *Engine) BindDouble(s *model.Statement, hostIndex int, value float64) error {
	s.Lock()
	defer s.Unlock()
	idx := hostIndex - 1
	if idx < 0 || idx >= len(s.ParamScratch) {
		growParamScratch(s, idx+1)
	}
	s.ParamScratch[idx] = []byte(strconv.FormatFloat(value, 'g', 17, 64))
	advanceBindState(s)
	return nil
}

// BindText implements the text bind entrypoint. Text binds copy into a
// freshly allocated overflow buffer rather than the fixed scratch slot
// (spec.md §4.2: "Text binds copy into a freshly allocated buffer").
func (e *Engine) BindText(s *model.Statement, hostIndex int, value string) error {
	s.Lock()
	defer s.Unlock()
	idx := hostIndex - 1
	if idx < 0 || idx >= len(s.ParamOverflow) {
		growParamOverflow(s, idx+1)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.ParamOverflow[idx] = buf
	advanceBindState(s)
	return nil
}

// BindBlob implements the blob bind entrypoint.
func (e *Engine) BindBlob(s *model.Statement, hostIndex int, value []byte) error {
	s.Lock()
	defer s.Unlock()
	idx := hostIndex - 1
	if idx < 0 || idx >= len(s.ParamOverflow) {
		growParamOverflow(s, idx+1)
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	s.ParamOverflow[idx] = buf
	advanceBindState(s)
	return nil
}

// BindNull implements the null bind entrypoint.
func (e *Engine) BindNull(s *model.Statement, hostIndex int) error {
	s.Lock()
	defer s.Unlock()
	idx := hostIndex - 1
	if idx < 0 || idx >= len(s.ParamOverflow) {
		growParamOverflow(s, idx+1)
	}
	s.ParamOverflow[idx] = nil
	if idx < len(s.ParamScratch) {
		s.ParamScratch[idx] = nil
	}
	advanceBindState(s)
	return nil
}

// ResolveNamedIndex maps a named parameter (":id", "@id", "$id") to its
// 1-based position in the internal ordering recorded at prepare time,
// ready to pass to the Bind* entrypoints (spec.md §4.2 "Bind
// algorithm": "Named-parameter statements look up the name ... and map
// to the internal ordering recorded at prepare").
func (e *Engine) ResolveNamedIndex(s *model.Statement, name string) (int, error) {
	for i, n := range s.ParamNames {
		if n == name {
			return i + 1, nil // callers pass this back into the 1-based Bind* entrypoints
		}
	}
	return 0, fmt.Errorf("statement: unknown parameter name %q", name)
}

func growParamScratch(s *model.Statement, n int) {
	if n <= len(s.ParamScratch) {
		return
	}
	grown := make([][]byte, n)
	copy(grown, s.ParamScratch)
	s.ParamScratch = grown
}

func growParamOverflow(s *model.Statement, n int) {
	if n <= len(s.ParamOverflow) {
		return
	}
	grown := make([][]byte, n)
	copy(grown, s.ParamOverflow)
	s.ParamOverflow = grown
}

// advanceBindState moves a fresh or bound-complete statement into
// bound-partial; bind calls are legal in any non-finalized state so this
// never errors (spec.md §4.2 "State machine").
func advanceBindState(s *model.Statement) {
	if s.State != model.StateFinalized {
		s.State = model.StateBoundPartial
	}
}

// BoundParams assembles the current parameter list for fingerprinting
// and remote execution (overflow value, if present, wins over scratch).
func BoundParams(s *model.Statement) [][]byte {
	n := len(s.ParamScratch)
	if len(s.ParamOverflow) > n {
		n = len(s.ParamOverflow)
	}
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		if i < len(s.ParamOverflow) && s.ParamOverflow[i] != nil {
			out[i] = s.ParamOverflow[i]
			continue
		}
		if i < len(s.ParamScratch) {
			out[i] = s.ParamScratch[i]
		}
	}
	return out
}
