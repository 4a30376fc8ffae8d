package producer

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func buildExecArg(pid uint32, comm, arg string) []byte {
	buf := make([]byte, 4+commSize+argSize)
	binary.LittleEndian.PutUint32(buf[0:4], pid)
	copy(buf[4:4+commSize], comm)
	copy(buf[4+commSize:4+commSize+argSize], arg)
	return buf
}

func TestDecodeExecArg(t *testing.T) {
	buf := buildExecArg(42, "sh", "-c")
	rec, ok := decodeExecArg(buf)
	if !ok {
		t.Fatalf("decodeExecArg returned ok=false")
	}
	if rec.Pid != 42 || rec.Comm != "sh" || rec.Arg != "-c" {
		t.Errorf("decoded = %+v", rec)
	}
}

func TestDecodeExecArgTooShort(t *testing.T) {
	if _, ok := decodeExecArg(make([]byte, 4)); ok {
		t.Errorf("expected ok=false for a truncated payload")
	}
}

func TestDecodeExecReturn(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], 7)
	retval := int32(-1)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(retval))
	rec, ok := decodeExecReturn(buf)
	if !ok || rec.Pid != 7 || rec.Retval != -1 {
		t.Errorf("decoded = %+v ok=%v", rec, ok)
	}
}

func TestDecodeIPv4Conn(t *testing.T) {
	buf := make([]byte, 4+commSize+4+2)
	binary.LittleEndian.PutUint32(buf[0:4], 100)
	copy(buf[4:4+commSize], "curl")
	copy(buf[4+commSize:4+commSize+4], []byte{93, 184, 216, 34})
	binary.LittleEndian.PutUint16(buf[4+commSize+4:], 443)

	rec, ok := decodeIPv4Conn(buf)
	if !ok {
		t.Fatalf("decodeIPv4Conn returned ok=false")
	}
	if rec.Pid != 100 || rec.Comm != "curl" || rec.Dport != 443 {
		t.Errorf("decoded = %+v", rec)
	}
	if !bytes.Equal(rec.Daddr[:], []byte{93, 184, 216, 34}) {
		t.Errorf("Daddr = %v", rec.Daddr)
	}
}

func TestDecodeConnOtherFamily(t *testing.T) {
	buf := make([]byte, 4+commSize+2+16+2)
	binary.LittleEndian.PutUint32(buf[0:4], 55)
	copy(buf[4:4+commSize], "dbus-daemon")
	binary.LittleEndian.PutUint16(buf[4+commSize:], 1) // AF_UNIX would be filtered kernel-side; use a stand-in value

	rec, ok := decodeConn(buf)
	if !ok {
		t.Fatalf("decodeConn returned ok=false")
	}
	if rec.Pid != 55 || rec.Comm != "dbus-daemon" {
		t.Errorf("decoded = %+v", rec)
	}
}

func TestCStringTrimsAtNUL(t *testing.T) {
	buf := make([]byte, commSize)
	copy(buf, "curl\x00garbage")
	if got := cString(buf); got != "curl" {
		t.Errorf("cString = %q, want curl", got)
	}
}

func TestCStringNoNUL(t *testing.T) {
	buf := []byte("abcd")
	if got := cString(buf); got != "abcd" {
		t.Errorf("cString = %q, want abcd", got)
	}
}
