package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"testing"

	pb "github.com/NicolasHaas/gavel/pkg/protocol/pb"

	"github.com/google/go-cmp/cmp"
)

func TestControlMessageFraming(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	msgs := []*pb.ControlMessage{
		{Hello: &pb.Hello{HDID: "abc", Name: "nick"}},
		{Command: &pb.Command{Text: `/ban 4242 "spam bot" 2d`}},
		{IC: &pb.ICMessage{CharName: "Phoenix", Pos: "def", Text: "Objection!"}},
	}
	for _, m := range msgs {
		if err := WriteControlMessage(&buf, m); err != nil {
			t.Fatalf("WriteControlMessage: %v", err)
		}
	}
	for i, want := range msgs {
		got, err := ReadControlMessage(&buf)
		if err != nil {
			t.Fatalf("ReadControlMessage #%d: %v", i, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("message #%d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestControlMessageTooLarge(t *testing.T) {
	t.Parallel()

	big := &pb.ControlMessage{Notice: &pb.Notice{Text: strings.Repeat("x", MaxControlMessage)}}
	if err := WriteControlMessage(&bytes.Buffer{}, big); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("write: got %v, want ErrMessageTooLarge", err)
	}

	var hdr bytes.Buffer
	_ = binary.Write(&hdr, binary.BigEndian, uint32(MaxControlMessage+1))
	if _, err := ReadControlMessage(&hdr); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("read: got %v, want ErrMessageTooLarge", err)
	}
}

func TestConnSendReceive(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	client, server := NewConn(a, 0), NewConn(b, 0)
	defer client.Close()
	defer server.Close()

	go func() {
		_ = client.Send(&pb.ControlMessage{Ping: &pb.Ping{Timestamp: 42}})
	}()
	got, err := server.Receive(0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Ping == nil || got.Ping.Timestamp != 42 {
		t.Errorf("Receive = %+v, want ping 42", got)
	}
}
