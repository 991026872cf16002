//go:build debug_brkalloc

package memutils

const (
	// createdFillPattern is written over fresh, non-zeroed allocations so that reads of
	// uninitialized memory are easy to spot
	createdFillPattern byte = 0xDC
)

// DebugFillAllocation overwrites a freshly allocated payload with an easy-to-identify pattern.
// This method no-ops unless the debug_brkalloc build tag is present.
func DebugFillAllocation(payload []byte) {
	for i := range payload {
		payload[i] = createdFillPattern
	}
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_brkalloc build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_brkalloc build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
