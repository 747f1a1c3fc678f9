package wasmhost

// fixtureModule returns a hand-assembled WebAssembly binary exercising the
// Host against real compiled bytecode. No WAT/Wasm toolchain is available
// in this environment to compile one from source, so the module is built
// directly from the WebAssembly binary format (module header, type/
// function/export/code sections) rather than skipped outright.
//
// It exports two functions:
//
//   - "add-two" (i64) -> i64: returns its argument plus 2. Exercises the
//     scalar marshaling path end to end.
//   - "spin" () -> (): an unconditional infinite loop (a loop block that
//     unconditionally branches back to itself). Used to exhaust a task's
//     fuel budget.
//
// Neither function needs linear memory or an alloc export: both signatures
// are fully scalar, so the buffer marshaling convention never engages.
func fixtureModule() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6D, // magic "\0asm"
		0x01, 0x00, 0x00, 0x00, // version 1

		// Type section: type0 = (i64) -> (i64), type1 = () -> ()
		0x01, 0x09,
		0x02,
		0x60, 0x01, 0x7E, 0x01, 0x7E,
		0x60, 0x00, 0x00,

		// Function section: func0 uses type0 (add-two), func1 uses type1 (spin)
		0x03, 0x03,
		0x02, 0x00, 0x01,

		// Export section: "add-two" -> func0, "spin" -> func1
		0x07, 0x12,
		0x02,
		0x07, 'a', 'd', 'd', '-', 't', 'w', 'o', 0x00, 0x00,
		0x04, 's', 'p', 'i', 'n', 0x00, 0x01,

		// Code section
		0x0A, 0x11,
		0x02,
		// add-two: local.get 0; i64.const 2; i64.add; end
		0x07, 0x00, 0x20, 0x00, 0x42, 0x02, 0x7C, 0x0B,
		// spin: loop (empty blocktype); br 0 (back to loop top); end; end
		0x07, 0x00, 0x03, 0x40, 0x0C, 0x00, 0x0B, 0x0B,
	}
}
