package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		wantClass TrafficClass
		wantRaw   uint8
		wantRest  []byte
	}{
		{"unreliable", []byte{0x00, 'h', 'i'}, ClassUnreliable, 0x00, []byte("hi")},
		{"reliable", []byte{0x01, 0xAA}, ClassReliable, 0x01, []byte{0xAA}},
		{"connection", []byte{0x02}, ClassConnection, 0x02, []byte{}},
		{"unknown", []byte{0x07, 0x01}, ClassUnknown, 0x07, []byte{0x01}},
		{"unknown 0xFF", []byte{0xFF}, ClassUnknown, 0xFF, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, rest, err := DecodeHeader(tt.payload)
			if err != nil {
				t.Fatalf("DecodeHeader failed: %v", err)
			}
			if h.Class != tt.wantClass {
				t.Errorf("Class = %s, want %s", h.Class, tt.wantClass)
			}
			if h.Raw != tt.wantRaw {
				t.Errorf("Raw = %d, want %d", h.Raw, tt.wantRaw)
			}
			if !bytes.Equal(rest, tt.wantRest) {
				t.Errorf("remainder = %v, want %v", rest, tt.wantRest)
			}
		})
	}
}

func TestDecodeHeader_Empty(t *testing.T) {
	for _, payload := range [][]byte{nil, {}} {
		if _, _, err := DecodeHeader(payload); !errors.Is(err, ErrMalformedPacket) {
			t.Errorf("DecodeHeader(%v) error = %v, want ErrMalformedPacket", payload, err)
		}
	}
}

func TestEncodeConnectionReply(t *testing.T) {
	if got := EncodeConnectionReply(StatusAccepted); !bytes.Equal(got, []byte{2, 1}) {
		t.Errorf("accepted reply = %v, want [2 1]", got)
	}
	if got := EncodeConnectionReply(StatusDenied); !bytes.Equal(got, []byte{2, 0}) {
		t.Errorf("denied reply = %v, want [2 0]", got)
	}
	if n := len(EncodeConnectionReply(StatusAccepted)); n != ReplySize {
		t.Errorf("reply length = %d, want %d", n, ReplySize)
	}
}

func TestConnectionReplyRoundTrip(t *testing.T) {
	reply := EncodeConnectionReply(StatusAccepted)

	h, body, err := DecodeHeader(reply)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if h.Class != ClassConnection {
		t.Errorf("Class = %s, want CONNECTION", h.Class)
	}
	if len(body) != 1 || Status(body[0]) != StatusAccepted {
		t.Errorf("body = %v, want [1]", body)
	}

	status, err := DecodeConnectionReply(reply)
	if err != nil {
		t.Fatalf("DecodeConnectionReply failed: %v", err)
	}
	if status != StatusAccepted {
		t.Errorf("status = %s, want ACCEPTED", status)
	}
}

func TestDecodeConnectionReply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"empty", nil, ErrMalformedPacket},
		{"missing status", []byte{0x02}, ErrMalformedPacket},
		{"wrong class", []byte{0x00, 0x01}, ErrUnexpectedClass},
		{"unknown status", []byte{0x02, 0x09}, ErrUnknownStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeConnectionReply(tt.payload); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeConnectionRequest(t *testing.T) {
	req := EncodeConnectionRequest()
	h, body, err := DecodeHeader(req)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if h.Class != ClassConnection || len(body) != 0 {
		t.Errorf("request = %v, want [2]", req)
	}
}

func TestEncodeData(t *testing.T) {
	payload := []byte("hello")
	buf, err := EncodeData(ClassReliable, payload)
	if err != nil {
		t.Fatalf("EncodeData failed: %v", err)
	}
	if !bytes.Equal(buf, []byte{0x01, 'h', 'e', 'l', 'l', 'o'}) {
		t.Errorf("EncodeData = %v", buf)
	}

	// The encoded buffer must not alias the input.
	payload[0] = 'j'
	if buf[1] != 'h' {
		t.Error("EncodeData should copy the payload")
	}

	if _, err := EncodeData(ClassConnection, nil); !errors.Is(err, ErrUnexpectedClass) {
		t.Errorf("EncodeData(CONNECTION) error = %v, want ErrUnexpectedClass", err)
	}
}

func TestNames(t *testing.T) {
	classes := []struct {
		c    TrafficClass
		want string
	}{
		{ClassUnreliable, "UNRELIABLE"},
		{ClassReliable, "RELIABLE"},
		{ClassConnection, "CONNECTION"},
		{ClassUnknown, "UNKNOWN"},
		{TrafficClass(0x10), "UNKNOWN"},
	}
	for _, tt := range classes {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("TrafficClass(%d).String() = %s, want %s", tt.c, got, tt.want)
		}
	}

	statuses := []struct {
		s    Status
		want string
	}{
		{StatusDenied, "DENIED"},
		{StatusAccepted, "ACCEPTED"},
		{Status(7), "UNKNOWN"},
	}
	for _, tt := range statuses {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %s, want %s", tt.s, got, tt.want)
		}
	}
}
