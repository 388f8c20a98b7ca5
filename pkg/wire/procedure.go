package wire

// Program numbers and versions.
const (
	CoreProgram      uint32 = 0x0607AF
	CoreVersion      uint32 = 1
	AbortProgram     uint32 = 0x0607B0
	AbortVersion     uint32 = 1
	InterruptProgram uint32 = 0x0607B1
	InterruptVersion uint32 = 1
)

// Core channel procedures.
const (
	ProcCreateLink      uint32 = 10
	ProcDeviceWrite     uint32 = 11
	ProcDeviceRead      uint32 = 12
	ProcDeviceReadStb   uint32 = 13
	ProcDeviceTrigger   uint32 = 14
	ProcDeviceClear     uint32 = 15
	ProcDeviceRemote    uint32 = 16
	ProcDeviceLocal     uint32 = 17
	ProcDeviceLock      uint32 = 18
	ProcDeviceUnlock    uint32 = 19
	ProcDeviceEnableSrq uint32 = 20
	ProcDeviceDoCmd     uint32 = 22
	ProcDestroyLink     uint32 = 23
	ProcCreateIntrChan  uint32 = 25
	ProcDestroyIntrChan uint32 = 26
)

// Abort channel procedure.
const ProcDeviceAbort uint32 = 1

// Interrupt channel procedure. It is one-way: no reply is sent.
const ProcDeviceIntrSrq uint32 = 30

var coreNames = map[uint32]string{
	0:                   "null",
	ProcCreateLink:      "create_link",
	ProcDeviceWrite:     "device_write",
	ProcDeviceRead:      "device_read",
	ProcDeviceReadStb:   "device_readstb",
	ProcDeviceTrigger:   "device_trigger",
	ProcDeviceClear:     "device_clear",
	ProcDeviceRemote:    "device_remote",
	ProcDeviceLocal:     "device_local",
	ProcDeviceLock:      "device_lock",
	ProcDeviceUnlock:    "device_unlock",
	ProcDeviceEnableSrq: "device_enable_srq",
	ProcDeviceDoCmd:     "device_docmd",
	ProcDestroyLink:     "destroy_link",
	ProcCreateIntrChan:  "create_intr_chan",
	ProcDestroyIntrChan: "destroy_intr_chan",
}

// CoreProcedureName returns the name of a core channel procedure, or "".
func CoreProcedureName(procedure uint32) string {
	return coreNames[procedure]
}

// AbortProcedureName returns the name of an abort channel procedure, or "".
func AbortProcedureName(procedure uint32) string {
	switch procedure {
	case 0:
		return "null"
	case ProcDeviceAbort:
		return "device_abort"
	}
	return ""
}

// InterruptProcedureName returns the name of an interrupt channel procedure, or "".
func InterruptProcedureName(procedure uint32) string {
	switch procedure {
	case 0:
		return "null"
	case ProcDeviceIntrSrq:
		return "device_intr_srq"
	}
	return ""
}

// ProcedureName names a procedure of any VXI-11 program.
func ProcedureName(program, procedure uint32) string {
	switch program {
	case CoreProgram:
		return CoreProcedureName(procedure)
	case AbortProgram:
		return AbortProcedureName(procedure)
	case InterruptProgram:
		return InterruptProcedureName(procedure)
	}
	return ""
}
