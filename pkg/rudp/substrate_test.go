package rudp

import "testing"

func TestInMemorySubstrateSendRecv(t *testing.T) {
	a := NewInMemorySubstrate()
	b := NewInMemorySubstrate()
	defer a.Close()
	defer b.Close()

	if err := a.Bind(""); err != nil {
		t.Fatalf("a.Bind: %v", err)
	}
	if err := b.Bind(""); err != nil {
		t.Fatalf("b.Bind: %v", err)
	}

	if n := a.SendTo([]byte("hi"), b.Address()); n != 2 {
		t.Fatalf("SendTo = %d, want 2", n)
	}

	buf := make([]byte, 16)
	n, from := b.RecvFrom(buf)
	if n != 2 || string(buf[:n]) != "hi" {
		t.Fatalf("RecvFrom = (%d, %q), want (2, \"hi\")", n, buf[:n])
	}
	if from != a.Address() {
		t.Errorf("from = %q, want %q", from, a.Address())
	}
}

func TestInMemorySubstrateRecvEmpty(t *testing.T) {
	a := NewInMemorySubstrate()
	defer a.Close()
	if err := a.Bind(""); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	n, from := a.RecvFrom(make([]byte, 16))
	if n != 0 || from != "" {
		t.Fatalf("RecvFrom on empty queue = (%d, %q), want (0, \"\")", n, from)
	}
}

func TestInMemorySubstrateClosedFailsRecv(t *testing.T) {
	a := NewInMemorySubstrate()
	if err := a.Bind(""); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	a.Close()
	if n, _ := a.RecvFrom(make([]byte, 16)); n != -1 {
		t.Fatalf("RecvFrom after Close = %d, want -1", n)
	}
	if n := a.SendTo([]byte("x"), "mem:whatever"); n != -1 {
		t.Fatalf("SendTo after Close = %d, want -1", n)
	}
}

func TestInMemorySubstrateAddressInUse(t *testing.T) {
	a := NewInMemorySubstrate()
	b := NewInMemorySubstrate()
	defer a.Close()
	defer b.Close()

	if err := a.Bind("mem:fixed"); err != nil {
		t.Fatalf("a.Bind: %v", err)
	}
	if err := b.Bind("mem:fixed"); err != ErrAddressInUse {
		t.Fatalf("b.Bind err = %v, want ErrAddressInUse", err)
	}
}

func TestInMemorySubstrateSendToUnboundDestinationFails(t *testing.T) {
	a := NewInMemorySubstrate()
	defer a.Close()
	if err := a.Bind(""); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if n := a.SendTo([]byte("x"), "mem:nobody"); n != -1 {
		t.Fatalf("SendTo to unbound address = %d, want -1", n)
	}
}

func TestInMemorySubstrateDropHook(t *testing.T) {
	a := NewInMemorySubstrate()
	b := NewInMemorySubstrate()
	defer a.Close()
	defer b.Close()

	if err := a.Bind(""); err != nil {
		t.Fatalf("a.Bind: %v", err)
	}
	if err := b.Bind(""); err != nil {
		t.Fatalf("b.Bind: %v", err)
	}

	b.SetDrop(func(from, to string, data []byte) bool { return true })

	a.SendTo([]byte("dropped"), b.Address())
	if n, _ := b.RecvFrom(make([]byte, 16)); n != 0 {
		t.Fatalf("RecvFrom after drop = %d, want 0 (dropped in flight)", n)
	}
}
