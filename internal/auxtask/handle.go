package auxtask

import "fmt"

// Handle addresses a task in the registry arena. The high 32 bits hold the slot
// generation and the low 32 bits the slot index; generation 0 is never issued,
// so the zero Handle is always invalid. Teardown bumps every generation, which
// turns handles kept past cleanup into lookups that fail instead of dangling.
type Handle uint64

// InvalidHandle is returned by failed creates
const InvalidHandle Handle = 0

func makeHandle(index int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(uint32(index)))
}

func (h Handle) index() int         { return int(uint32(h)) }
func (h Handle) generation() uint32 { return uint32(h >> 32) }

// Valid reports whether h could have been issued by a registry. It does not
// check that the task still exists.
func (h Handle) Valid() bool { return h.generation() != 0 }

// String implements fmt.Stringer
func (h Handle) String() string {
	if !h.Valid() {
		return "aux#invalid"
	}
	return fmt.Sprintf("aux#%d.%d", h.index(), h.generation())
}
