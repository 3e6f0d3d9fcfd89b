package runtime

import (
	"bufio"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// print writes its arguments to the runtime output, tab separated. It runs
// under the boundary lock, so lines from different threads never interleave.
func (r *Runtime) print(L *lua.LState) int {
	var b strings.Builder
	top := L.GetTop()
	for i := 1; i <= top; i++ {
		if i > 1 {
			b.WriteByte('\t')
		}
		b.WriteString(L.ToStringMeta(L.Get(i)).String())
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(r.out, b.String()); err != nil {
		L.RaiseError("print: %s", err.Error())
	}
	return 0
}

func stringReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}
