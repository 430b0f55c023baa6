package dfu

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbfunc/pkg"
)

func TestFunctional(t *testing.T) {
	in := Functional{
		Attributes:    AttrCanDnload | AttrWillDetach,
		DetachTimeout: 255,
		TransferSize:  1024,
		DFUVersion:    Version,
	}
	var buf [FunctionalSize]byte
	require.Equal(t, FunctionalSize, in.MarshalTo(buf[:]))
	assert.Equal(t, []byte{9, 0x21, 0x09, 0xFF, 0x00, 0x00, 0x04, 0x10, 0x01}, buf[:])

	var out Functional
	require.NoError(t, ParseFunctional(buf[:], &out))
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("ParseFunctional mismatch (-want +got):\n%s", diff)
	}

	assert.ErrorIs(t, ParseFunctional(buf[:8], &out), pkg.ErrDescriptorTooShort)
	bad := buf
	bad[1] = 0x24
	assert.ErrorIs(t, ParseFunctional(bad[:], &out), pkg.ErrDescriptorTypeMismatch)

	cs := append([]byte{5, 0x24, 0, 0x10, 0x01}, buf[:]...)
	assert.Equal(t, buf[:], findFunctional(cs))
	assert.Nil(t, findFunctional(cs[:5]))
	assert.Nil(t, findFunctional([]byte{1, 0x21}))
}

func TestStatusBlock(t *testing.T) {
	in := StatusBlock{Status: StatusErrWrite, PollTimeout: 0x123456, State: StateDnBusy, StringIndex: 4}
	var buf [StatusSize]byte
	require.Equal(t, StatusSize, in.MarshalTo(buf[:]))
	assert.Equal(t, []byte{0x03, 0x56, 0x34, 0x12, 0x04, 0x04}, buf[:])

	var out StatusBlock
	require.NoError(t, ParseStatusBlock(buf[:], &out))
	assert.Equal(t, in, out)
	assert.ErrorIs(t, ParseStatusBlock(buf[:5], &out), pkg.ErrBufferTooSmall)
	assert.Zero(t, in.MarshalTo(buf[:5]))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "appIDLE", StateAppIdle.String())
	assert.Equal(t, "dfuMANIFEST-WAIT-RESET", StateManifestWaitReset.String())
	assert.Equal(t, "dfuERROR", StateError.String())
	assert.Equal(t, "State(11)", State(11).String())
	assert.Equal(t, "errSTALLEDPKT", StatusErrStalledPkt.String())
	assert.Equal(t, "Status(16)", Status(16).String())
	assert.EqualError(t, StatusErrVerify, "dfu: errVERIFY")
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusErrWrite, statusOf(fmt.Errorf("flash: %w", StatusErrWrite)))
	assert.Equal(t, StatusErrUnknown, statusOf(errors.New("flash busy")))
}

func TestMemoryFirmware(t *testing.T) {
	fw := NewMemoryFirmware([]byte("0123456789"), 4, 8)

	buf := make([]byte, 4)
	n, err := fw.Upload(2, buf)
	require.NoError(t, err)
	assert.Equal(t, "89", string(buf[:n]))
	n, err = fw.Upload(3, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, fw.Manifest(), StatusErrNotDone)
	require.NoError(t, fw.Download(0, []byte("abcd")))
	assert.ErrorIs(t, fw.Download(2, []byte("ef")), StatusErrAddress)
	require.NoError(t, fw.Download(1, []byte("ef")))
	assert.ErrorIs(t, fw.Download(2, []byte("ghi")), StatusErrAddress)
	require.NoError(t, fw.Manifest())
	assert.Equal(t, []byte("abcdef"), fw.Image())
}
