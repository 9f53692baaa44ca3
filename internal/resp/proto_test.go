package resp

import (
	"bufio"
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, v Value) Value {
	t.Helper()
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := Encode(w, v); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	w.Flush()
	got, err := Decode(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestEncodeDecodeSimpleString(t *testing.T) {
	got := roundTrip(t, SimpleString("OK"))
	if got.Kind != KindSimple || got.Str != "OK" {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeError(t *testing.T) {
	got := roundTrip(t, ErrorReply("ERR boom"))
	if got.Kind != KindError || got.Str != "ERR boom" {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeInteger(t *testing.T) {
	got := roundTrip(t, Integer(-42))
	if got.Kind != KindInteger || got.Int != -42 {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeBulkString(t *testing.T) {
	got := roundTrip(t, BulkString([]byte("hello")))
	if got.Kind != KindBulk || string(got.Bulk) != "hello" {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeNullBulk(t *testing.T) {
	got := roundTrip(t, NullBulk())
	if !got.BulkNull {
		t.Fatalf("expected null bulk, got %+v", got)
	}
}

func TestEncodeDecodeArray(t *testing.T) {
	got := roundTrip(t, Array(Integer(1), BulkString([]byte("x")), NullBulk()))
	if got.Kind != KindArray || len(got.Array) != 3 {
		t.Fatalf("got %+v", got)
	}
	if got.Array[0].Int != 1 || string(got.Array[1].Bulk) != "x" || !got.Array[2].BulkNull {
		t.Fatalf("got %+v", got)
	}
}

func TestEncodeDecodeNullArray(t *testing.T) {
	got := roundTrip(t, NullArray())
	if !got.ArrayNull {
		t.Fatalf("expected null array, got %+v", got)
	}
}

func TestDecodeMissingCRLFIsParseError(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("+OK\n")))
	if _, err := Decode(r); err == nil {
		t.Fatal("expected parse error for line missing \\r")
	}
}

func TestDecodeLengthOutOfRangeIsParseError(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("$2147483648\r\n")))
	if _, err := Decode(r); err == nil {
		t.Fatal("expected parse error for length exceeding 2^31-1")
	}
}

func TestDecodeZeroLengthBulkAccepted(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("$0\r\n\r\n")))
	v, err := Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(v.Bulk) != 0 {
		t.Fatalf("got %+v", v)
	}
}

func TestDecodeBulkNegativeOneIsNull(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("$-1\r\n")))
	v, err := Decode(r)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !v.BulkNull {
		t.Fatalf("expected null bulk, got %+v", v)
	}
}

func TestDecodeBulkNegativeTwoRejected(t *testing.T) {
	r := bufio.NewReader(bytes.NewReader([]byte("$-2\r\n")))
	if _, err := Decode(r); err == nil {
		t.Fatal("expected parse error for length -2")
	}
}

func TestSetGetScenario(t *testing.T) {
	wire := "*3\r\n$3\r\nSET\r\n$3\r\nfoo\r\n$3\r\nbar\r\n*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"
	r := bufio.NewReader(bytes.NewReader([]byte(wire)))
	first, err := Decode(r)
	if err != nil {
		t.Fatalf("decode SET: %v", err)
	}
	if len(first.Array) != 3 || string(first.Array[0].Bulk) != "SET" {
		t.Fatalf("got %+v", first)
	}
	second, err := Decode(r)
	if err != nil {
		t.Fatalf("decode GET: %v", err)
	}
	if len(second.Array) != 2 || string(second.Array[1].Bulk) != "foo" {
		t.Fatalf("got %+v", second)
	}
}
