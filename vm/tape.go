package vm

import "fmt"

// DefaultTapeSize is the number of cells allocated when no size is configured.
const DefaultTapeSize = 30000

// Tape is the interpreter's memory: a fixed number of 8-bit cells, all zero
// at start. It never grows; addressing outside [0, Len()) is an error.
type Tape struct {
	cells []byte
}

// NewTape allocates a zeroed tape of size cells. A non-positive size
// selects DefaultTapeSize.
func NewTape(size int) *Tape {
	if size <= 0 {
		size = DefaultTapeSize
	}
	return &Tape{cells: make([]byte, size)}
}

// Len returns the tape capacity in cells.
func (t *Tape) Len() int {
	return len(t.cells)
}

// InBounds reports whether addr names a cell on the tape.
func (t *Tape) InBounds(addr int) bool {
	return addr >= 0 && addr < len(t.cells)
}

// Get returns the cell at addr. The caller guarantees addr is in bounds.
func (t *Tape) Get(addr int) byte {
	return t.cells[addr]
}

// Set stores v at addr. The caller guarantees addr is in bounds.
func (t *Tape) Set(addr int, v byte) {
	t.cells[addr] = v
}

// Add adds n to the cell at addr with 8-bit wraparound.
func (t *Tape) Add(addr int, n int) {
	t.cells[addr] += byte(n % 256)
}

// Sub subtracts n from the cell at addr with 8-bit wraparound.
func (t *Tape) Sub(addr int, n int) {
	t.cells[addr] -= byte(n % 256)
}

// TapeOutOfBoundsError is returned when the data pointer would leave the tape.
type TapeOutOfBoundsError struct {
	Address int // the address the pointer would have moved to
	Size    int // tape capacity
	IP      int // index of the offending instruction
}

func (e *TapeOutOfBoundsError) Error() string {
	return fmt.Sprintf("tape out of bounds: address %d outside [0, %d) at instruction %04d", e.Address, e.Size, e.IP)
}
