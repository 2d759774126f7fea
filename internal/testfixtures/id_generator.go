package testfixtures

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator hands out run ids and lease owners such as "exec-0001", so log
// lines and lease rows can be asserted on.
type IDGenerator struct {
	prefix string
	issued atomic.Uint64
}

// NewIDGenerator uses prefix "exec" when prefix is empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "exec"
	}
	return &IDGenerator{prefix: prefix}
}

func (g *IDGenerator) Next() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.issued.Add(1))
}

// NextFunc returns Next for Options.IDGenerator. A nil generator yields empty
// ids.
func (g *IDGenerator) NextFunc() func() string {
	if g == nil {
		return func() string { return "" }
	}
	return g.Next
}

func (g *IDGenerator) Issued() int {
	return int(g.issued.Load())
}
