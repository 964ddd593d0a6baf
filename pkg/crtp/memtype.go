package crtp

// MemoryType identifies the kind of memory a TOC entry describes, as
// reported by the memory subsystem's GET_DETAILS command.
type MemoryType uint8

const (
	MemoryTypeI2C           MemoryType = 0
	MemoryTypeOneWire       MemoryType = 1
	MemoryTypeLED12         MemoryType = 0x10
	MemoryTypeLocoPositioning MemoryType = 0x11
	MemoryTypeTrajectory    MemoryType = 0x12
	MemoryTypeLocoPositioning2 MemoryType = 0x13
	MemoryTypeLighthouse    MemoryType = 0x14
	MemoryTypeMemoryTester  MemoryType = 0x15
	MemoryTypeDecka         MemoryType = 0x16
	MemoryTypeDeckMem       MemoryType = 0x17
)

var memoryTypeDescriptions = map[MemoryType]string{
	MemoryTypeI2C:              "I2C",
	MemoryTypeOneWire:          "1-wire",
	MemoryTypeLED12:            "LED ring",
	MemoryTypeLocoPositioning:  "Loco positioning",
	MemoryTypeTrajectory:       "trajectory",
	MemoryTypeLocoPositioning2: "Loco positioning 2",
	MemoryTypeLighthouse:       "Lighthouse",
	MemoryTypeMemoryTester:     "memory tester",
	MemoryTypeDecka:            "deck memory (legacy)",
	MemoryTypeDeckMem:          "deck memory",
}

// String returns a human-readable description, falling back to "unknown"
// for memory types this package does not recognise.
func (t MemoryType) String() string {
	if name, ok := memoryTypeDescriptions[t]; ok {
		return name
	}
	return "unknown"
}
