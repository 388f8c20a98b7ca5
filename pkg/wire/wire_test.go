package wire

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vxi11-protocol/vxi11-go/pkg/xdr"
)

// The termination-character flag is documented as "bit 7" but deployed
// instruments and controllers exchange 0x50. Keep the literal.
func TestTermCharSetIsLiteral0x50(t *testing.T) {
	assert.Equal(t, Flags(0x50), FlagTermCharSet)
	assert.NotEqual(t, Flags(1<<7), FlagTermCharSet, "TermCharSet must not be recomputed from bit 7")
	assert.Equal(t, Flags(0x01), FlagWaitLock)
	assert.Equal(t, Flags(0x08), FlagEnd)

	f := FlagWaitLock | FlagTermCharSet
	assert.True(t, f.Has(FlagTermCharSet))
	assert.False(t, f.Has(FlagEnd))
	assert.Equal(t, "WAITLOCK|TERMCHRSET", f.String())

	// 0x40 alone shares a bit with 0x50 but is not the flag.
	assert.False(t, Flags(0x40).Has(FlagTermCharSet))
}

func TestReasonBits(t *testing.T) {
	assert.True(t, Reason(0).Partial())
	assert.False(t, ReasonRequestCount.Partial())
	assert.False(t, ReasonRequestCount.EndOfMessage())
	assert.True(t, (ReasonEnd | ReasonRequestCount).EndOfMessage())
	assert.True(t, ReasonChr.EndOfMessage())
	assert.Equal(t, "REQCNT|CHR|END", (ReasonRequestCount | ReasonChr | ReasonEnd).String())
	assert.Equal(t, "NONE", Reason(0).String())
}

func TestProgramNumbers(t *testing.T) {
	assert.Equal(t, uint32(0x0607AF), CoreProgram)
	assert.Equal(t, uint32(0x0607B0), AbortProgram)
	assert.Equal(t, uint32(0x0607B1), InterruptProgram)
	assert.Equal(t, "device_read", ProcedureName(CoreProgram, ProcDeviceRead))
	assert.Equal(t, "device_abort", ProcedureName(AbortProgram, ProcDeviceAbort))
	assert.Equal(t, "device_intr_srq", ProcedureName(InterruptProgram, ProcDeviceIntrSrq))
	assert.Equal(t, "", ProcedureName(CoreProgram, 21))
}

func TestErrorCodes(t *testing.T) {
	codes := map[ErrorCode]int32{
		NoError: 0, SyntaxError: 1, DeviceNotAccessible: 3, InvalidLinkIdentifier: 4,
		ParameterError: 5, ChannelNotEstablished: 6, OperationNotSupported: 8,
		OutOfResources: 9, DeviceLockedByAnotherLink: 11, NoLockHeldByThisLink: 12,
		IOTimeout: 15, IOError: 17, InvalidAddress: 21, Abort: 23,
		ChannelAlreadyEstablished: 29, NotImplemented: -1,
	}
	for c, v := range codes {
		assert.Equal(t, v, int32(c), c.String())
	}
	assert.Equal(t, "ERROR_99", ErrorCode(99).String())
	assert.NoError(t, NoError.Err("clear"))
}

func TestDeviceError(t *testing.T) {
	err := fmt.Errorf("read loop: %w", Abort.Err("device_read"))

	assert.True(t, errors.Is(err, &DeviceError{Code: Abort}))
	assert.True(t, errors.Is(err, &DeviceError{Op: "device_read", Code: Abort}))
	assert.False(t, errors.Is(err, &DeviceError{Op: "device_write", Code: Abort}))
	assert.False(t, errors.Is(err, &DeviceError{Code: IOTimeout}))
	assert.Equal(t, Abort, CodeOf(err))
	assert.Equal(t, NoError, CodeOf(nil))
	assert.Equal(t, NotImplemented, CodeOf(errors.New("boom")))
	assert.Contains(t, err.Error(), "device_read: device error ABORT (23)")
}

func TestCreateLinkParmsLayout(t *testing.T) {
	p := &CreateLinkParms{ClientID: 5, LockDevice: true, LockTimeout: 1000, Device: "inst0"}
	data := xdr.Marshal(p)

	want := []byte{
		0, 0, 0, 5,
		0, 0, 0, 1,
		0, 0, 0x03, 0xE8,
		0, 0, 0, 5, 'i', 'n', 's', 't', '0', 0, 0, 0,
	}
	assert.Equal(t, want, data)

	var got CreateLinkParms
	require.NoError(t, xdr.Unmarshal(data, &got))
	assert.Equal(t, *p, got)
}

func TestReadRespCarriesReasonAndData(t *testing.T) {
	r := &DeviceReadResp{Error: NoError, Reason: ReasonEnd | ReasonChr, Data: []byte("1.234\n")}
	var got DeviceReadResp
	require.NoError(t, xdr.Unmarshal(xdr.Marshal(r), &got))
	assert.Equal(t, r.Reason, got.Reason)
	assert.Equal(t, r.Data, got.Data)
	assert.Equal(t, int32(0), got.ErrorCode())
}

func TestReadParmsTermChar(t *testing.T) {
	p := &DeviceReadParms{Link: 3, RequestSize: 512, IOTimeout: 2000, Flags: FlagTermCharSet, TermChar: '\n'}
	data := xdr.Marshal(p)
	require.Len(t, data, 24)
	// Flags word, then the term char widened to 32 bits.
	assert.Equal(t, []byte{0, 0, 0, 0x50}, data[16:20])
	assert.Equal(t, []byte{0, 0, 0, '\n'}, data[20:24])

	var got DeviceReadParms
	require.NoError(t, xdr.Unmarshal(data, &got))
	assert.Equal(t, *p, got)
	assert.Equal(t, int32(3), got.LinkID())
}

func TestEnableSrqHandleLimit(t *testing.T) {
	p := &DeviceEnableSrqParms{Link: 1, Enable: true, Handle: make([]byte, MaxSrqHandle+1)}
	var got DeviceEnableSrqParms
	assert.ErrorIs(t, xdr.Unmarshal(xdr.Marshal(p), &got), xdr.ErrTooLong)
}

func TestRemoteFuncPortIsUnsignedShort(t *testing.T) {
	p := &DeviceRemoteFunc{HostAddr: 0x7F000001, HostPort: 50000, ProgNum: InterruptProgram, ProgVers: 1, ProgFamily: FamilyUDP}
	var got DeviceRemoteFunc
	require.NoError(t, xdr.Unmarshal(xdr.Marshal(p), &got))
	assert.Equal(t, *p, got)
	assert.Equal(t, "UDP", got.ProgFamily.String())
}

func TestTruncatedRecord(t *testing.T) {
	data := xdr.Marshal(&DeviceWriteParms{Link: 1, Data: []byte("*RST\n")})
	var got DeviceWriteParms
	assert.ErrorIs(t, xdr.Unmarshal(data[:len(data)-4], &got), xdr.ErrShortBuffer)
}

func TestMillis(t *testing.T) {
	assert.Equal(t, uint32(0), Millis(-time.Second))
	assert.Equal(t, uint32(1500), Millis(1500*time.Millisecond))
	assert.Equal(t, ^uint32(0), Millis(100*24*time.Hour*365))
	assert.Equal(t, 2*time.Second, Duration(2000))
}
