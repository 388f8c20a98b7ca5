package wire

import "strings"

// Flags is the operation flags word sent with most core channel calls.
type Flags int32

const (
	// FlagWaitLock makes the call wait up to lock_timeout for a lock held
	// by another link instead of failing immediately.
	FlagWaitLock Flags = 0x01

	// FlagEnd marks the last byte of a device_write as the end of message.
	FlagEnd Flags = 0x08

	// FlagTermCharSet makes device_read stop at termChar. The value is 0x50
	// on the wire in deployed implementations and must stay that way.
	FlagTermCharSet Flags = 0x50
)

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// String lists the set flags.
func (f Flags) String() string {
	var parts []string
	if f.Has(FlagWaitLock) {
		parts = append(parts, "WAITLOCK")
	}
	if f.Has(FlagEnd) {
		parts = append(parts, "END")
	}
	if f.Has(FlagTermCharSet) {
		parts = append(parts, "TERMCHRSET")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Reason is the bit set explaining why device_read returned.
type Reason int32

const (
	// ReasonRequestCount means requestSize bytes were transferred.
	ReasonRequestCount Reason = 0x01

	// ReasonChr means the termination character was seen.
	ReasonChr Reason = 0x02

	// ReasonEnd means the device signalled end of message.
	ReasonEnd Reason = 0x04
)

// Has reports whether every bit of r2 is set.
func (r Reason) Has(r2 Reason) bool {
	return r&r2 == r2
}

// Partial reports whether no termination bit is set, so the caller must read again.
func (r Reason) Partial() bool {
	return r&(ReasonRequestCount|ReasonChr|ReasonEnd) == 0
}

// EndOfMessage reports whether END or the termination character was seen.
func (r Reason) EndOfMessage() bool {
	return r&(ReasonChr|ReasonEnd) != 0
}

// String lists the set reasons.
func (r Reason) String() string {
	var parts []string
	if r.Has(ReasonRequestCount) {
		parts = append(parts, "REQCNT")
	}
	if r.Has(ReasonChr) {
		parts = append(parts, "CHR")
	}
	if r.Has(ReasonEnd) {
		parts = append(parts, "END")
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}
