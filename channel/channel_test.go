// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/creachadair/smpi"
	"github.com/creachadair/smpi/channel"
	"github.com/creachadair/smpi/packet"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// waitStatus polls h on ep until it is no longer pending.
func waitStatus(t *testing.T, ep smpi.Endpoint, h smpi.Handle) smpi.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := ep.Poll(h); st.State != smpi.Pending {
			return st
		}
		runtime.Gosched()
	}
	t.Fatalf("Handle %d did not complete", h)
	return smpi.Status{}
}

// mustProbe probes ep for tag until a message is found.
func mustProbe(t *testing.T, ep smpi.Endpoint, tag smpi.Tag) smpi.Match {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m, ok, err := ep.Probe(tag)
		if err != nil {
			t.Fatalf("Probe %d: unexpected error: %v", tag, err)
		} else if ok {
			return m
		}
		runtime.Gosched()
	}
	t.Fatalf("Probe %d: no message arrived", tag)
	return smpi.Match{}
}

// recvMessage probes for and receives one message with the given tag.
func recvMessage(t *testing.T, ep smpi.Endpoint, tag smpi.Tag) string {
	t.Helper()
	m := mustProbe(t, ep, tag)
	buf := make([]byte, m.Size)
	h, err := ep.StartRecv(buf, m)
	if err != nil {
		t.Fatalf("StartRecv: unexpected error: %v", err)
	}
	defer ep.Release(h)
	if st := waitStatus(t, ep, h); st.State != smpi.Complete || st.Bytes != m.Size {
		t.Fatalf("Recv status: got %+v, want complete with %d bytes", st, m.Size)
	}
	return string(buf)
}

func sendMessage(t *testing.T, ep smpi.Endpoint, tag smpi.Tag, segs ...string) smpi.Handle {
	t.Helper()
	var ss [][]byte
	for _, s := range segs {
		ss = append(ss, []byte(s))
	}
	h, err := ep.StartSend(ss, tag)
	if err != nil {
		t.Fatalf("StartSend: unexpected error: %v", err)
	}
	return h
}

func TestDirect(t *testing.T) {
	a, b := channel.Direct(nil)
	defer a.Close()
	defer b.Close()

	h := sendMessage(t, a, 1, "hello, ", "world")
	if st := waitStatus(t, a, h); st.State != smpi.Complete || st.Bytes != 12 {
		t.Errorf("Send status: got %+v, want complete with 12 bytes", st)
	}
	a.Release(h)
	a.Release(h) // releasing twice is harmless

	if m, ok, err := b.Probe(2); ok || err != nil {
		t.Errorf("Probe 2: got %+v, %v, %v; want no match", m, ok, err)
	}
	if got := recvMessage(t, b, 1); got != "hello, world" {
		t.Errorf("Recv: got %q, want %q", got, "hello, world")
	}

	// A released handle is no longer known.
	if st := a.Poll(h); st.State != smpi.Failed || st.Code != channel.StatusUnknownHandle {
		t.Errorf("Poll released: got %+v, want unknown handle", st)
	}
}

func TestDirectFIFO(t *testing.T) {
	a, b := channel.Direct(nil)
	defer a.Close()
	defer b.Close()

	// Interleave two tags; each tag must arrive in order.
	for _, msg := range []struct {
		tag  smpi.Tag
		text string
	}{{1, "a1"}, {2, "b1"}, {1, "a2"}, {2, "b2"}, {1, "a3"}} {
		a.Release(waitHandle(t, a, sendMessage(t, a, msg.tag, msg.text)))
	}

	var got []string
	for _, tag := range []smpi.Tag{2, 1, 1, 2, 1} {
		got = append(got, recvMessage(t, b, tag))
	}
	if diff := cmp.Diff([]string{"b1", "a1", "a2", "b2", "a3"}, got); diff != "" {
		t.Errorf("Received messages (-want, +got):\n%s", diff)
	}
}

func waitHandle(t *testing.T, ep smpi.Endpoint, h smpi.Handle) smpi.Handle {
	t.Helper()
	if st := waitStatus(t, ep, h); st.State != smpi.Complete {
		t.Fatalf("Handle %d: got %+v, want complete", h, st)
	}
	return h
}

func TestDirectRendezvous(t *testing.T) {
	a, b := channel.Direct(&channel.DirectOptions{EagerLimit: 4, Latency: 3})
	defer a.Close()
	defer b.Close()

	small := sendMessage(t, a, 0, "abc")
	large := sendMessage(t, a, 0, "abcdefgh")

	// The small send completes after the latency without a receiver; the
	// large one waits for the receiver.
	if st := waitStatus(t, a, small); st.State != smpi.Complete {
		t.Errorf("Small send: got %+v, want complete", st)
	}
	for range 10 {
		if st := a.Poll(large); st.State != smpi.Pending {
			t.Fatalf("Large send before receive: got %+v, want pending", st)
		}
	}

	if got := recvMessage(t, b, 0); got != "abc" {
		t.Errorf("First message: got %q, want abc", got)
	}
	if got := recvMessage(t, b, 0); got != "abcdefgh" {
		t.Errorf("Second message: got %q, want abcdefgh", got)
	}
	if st := waitStatus(t, a, large); st.State != smpi.Complete || st.Bytes != 8 {
		t.Errorf("Large send: got %+v, want complete with 8 bytes", st)
	}
}

func TestDirectClose(t *testing.T) {
	a, b := channel.Direct(&channel.DirectOptions{EagerLimit: -1})

	h := sendMessage(t, a, 5, "pending")
	if err := b.Close(); err != nil {
		t.Fatalf("Close b: unexpected error: %v", err)
	}
	if st := waitStatus(t, a, h); st.State != smpi.Failed || st.Code != channel.StatusClosed {
		t.Errorf("Send to closed peer: got %+v, want failed with status %d", st, channel.StatusClosed)
	}

	// Sends after the peer closes fail when polled.
	h2 := sendMessage(t, a, 5, "late")
	if st := waitStatus(t, a, h2); st.State != smpi.Failed {
		t.Errorf("Send after close: got %+v, want failed", st)
	}

	if _, _, err := b.Probe(5); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Probe on closed: got %v, want %v", err, net.ErrClosed)
	}
	if err := b.Close(); !errors.Is(err, net.ErrClosed) {
		t.Errorf("Close b again: got %v, want %v", err, net.ErrClosed)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close a: unexpected error: %v", err)
	}
}

func TestDirectPeerClosed(t *testing.T) {
	a, b := channel.Direct(nil)
	defer b.Close()

	a.Release(sendMessage(t, a, 4, "queued"))
	if _, ok, err := b.Probe(9); ok || err != nil {
		t.Errorf("Probe empty tag: got (%v, %v), want no match", ok, err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close a: unexpected error: %v", err)
	}

	// The queued message survives the close, but an empty tag does not wait.
	m := mustProbe(t, b, 4)
	if m.Size != len("queued") {
		t.Errorf("Probe: got size %d, want %d", m.Size, len("queued"))
	}
	for _, tag := range []smpi.Tag{4, 9} {
		if _, ok, err := b.Probe(tag); ok || !errors.Is(err, net.ErrClosed) {
			t.Errorf("Probe %d after peer close: got (%v, %v), want %v", tag, ok, err, net.ErrClosed)
		}
	}
}

func TestStartRecvErrors(t *testing.T) {
	a, b := channel.Direct(nil)
	defer a.Close()
	defer b.Close()

	if _, err := b.StartRecv(nil, smpi.Match{ID: 12345}); err == nil {
		t.Error("StartRecv with unknown match: got nil error")
	}
	a.Release(sendMessage(t, a, 3, "four"))
	m := mustProbe(t, b, 3)
	if _, err := b.StartRecv(make([]byte, 2), m); err == nil {
		t.Error("StartRecv with wrong size: got nil error")
	}
}

func TestStream(t *testing.T) {
	defer leaktest.Check(t)()

	c1, c2 := net.Pipe()
	a, b := channel.Stream(c1), channel.Stream(c2)

	g := taskgroup.New(nil)
	g.Go(func() error {
		for i, text := range []string{"one", "two", "three"} {
			h := sendMessage(t, a, smpi.Tag(i%2), text, "!")
			if st := waitStatus(t, a, h); st.State != smpi.Complete || st.Bytes != len(text)+1 {
				t.Errorf("Send %q: got %+v", text, st)
			}
			a.Release(h)
		}
		return nil
	})
	var got []string
	for _, tag := range []smpi.Tag{1, 0, 0} {
		got = append(got, recvMessage(t, b, tag))
	}
	g.Wait()

	if diff := cmp.Diff([]string{"two!", "one!", "three!"}, got); diff != "" {
		t.Errorf("Received (-want, +got):\n%s", diff)
	}

	// Closing a notifies b, which can then no longer probe successfully.
	if err := a.Close(); err != nil {
		t.Errorf("Close a: unexpected error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, ok, err := b.Probe(0)
		if err != nil {
			t.Logf("Probe after close OK: %v", err)
			break
		} else if ok {
			t.Fatal("Probe after close: unexpected match")
		} else if time.Now().After(deadline) {
			t.Fatal("Probe after close: no error reported")
		}
		runtime.Gosched()
	}
	if err := b.Close(); err != nil {
		t.Logf("Close b: %v", err)
	}
}

func TestStreamTCP(t *testing.T) {
	defer leaktest.Check(t)()

	lst, err := channel.Listen("localhost:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lst.Close()

	var srv *channel.StreamEndpoint
	g := taskgroup.New(nil)
	g.Go(func() error {
		conn, err := lst.Accept()
		if err != nil {
			return err
		}
		srv = channel.Stream(conn)
		return nil
	})
	cli, err := channel.Dial(t.Context(), lst.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	big := bytes.Repeat([]byte("0123456789"), 100000)
	h, err := cli.StartSend([][]byte{big[:5], big[5:]}, 99)
	if err != nil {
		t.Fatalf("StartSend: %v", err)
	}
	if got := recvMessage(t, srv, 99); got != string(big) {
		t.Errorf("Recv: got %d bytes, want %d", len(got), len(big))
	}
	waitHandle(t, cli, h)

	cli.Close()
	srv.Close()
}

func TestPacket(t *testing.T) {
	var buf bytes.Buffer
	pkt := &channel.Packet{
		Type:    channel.PacketData,
		Tag:     0x0102,
		Payload: packet.Segments{[]byte("ab"), []byte("cd")},
	}
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	const want = "SM\x00\x01\x00\x00\x00\x04\x00\x00\x00\x00\x00\x00\x01\x02abcd"
	if got := buf.String(); got != want {
		t.Errorf("Encoded: got %q, want %q", got, want)
	}

	var got channel.Packet
	if _, err := got.ReadFrom(&buf); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if got.Type != pkt.Type || got.Tag != pkt.Tag || string(got.Payload.Join()) != "abcd" {
		t.Errorf("Decoded: got %v, want %v", got, pkt)
	}

	for _, bad := range []string{
		"SX\x00\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00",   // bad magic
		"SM\x00\x01\x00\x00",                                         // short header
		"SM\x00\x01\x00\x00\x00\x09\x00\x00\x00\x00\x00\x00\x00\x00ab", // short payload
	} {
		var p channel.Packet
		if _, err := p.ReadFrom(bytes.NewReader([]byte(bad))); err == nil {
			t.Errorf("ReadFrom %q: got %v, want error", bad, p)
		}
	}
}

func TestPacketLarge(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), (3<<20+5)/16)
	var buf bytes.Buffer
	pkt := &channel.Packet{Type: channel.PacketData, Tag: 7, Payload: packet.Segments{payload}}
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	var got channel.Packet
	nr, err := got.ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if want := int64(16 + len(payload)); nr != want {
		t.Errorf("ReadFrom: read %d bytes, want %d", nr, want)
	}
	if !bytes.Equal(got.Payload.Join(), payload) {
		t.Errorf("ReadFrom: payload of %d bytes does not match", got.Payload.Len())
	}

	// A header claiming the maximum length does not allocate it up front.
	const huge = "SM\x00\x01\xff\xff\xff\xff\x00\x00\x00\x00\x00\x00\x00\x01abc"
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	var p channel.Packet
	_, err = p.ReadFrom(bytes.NewReader([]byte(huge)))
	runtime.ReadMemStats(&after)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrom huge: got %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if n := after.TotalAlloc - before.TotalAlloc; n > 16<<20 {
		t.Errorf("ReadFrom huge: allocated %d bytes", n)
	}
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		input, want, addr string
	}{
		{"", "unix", ""},
		{"nothing", "unix", "nothing"},
		{"like/a/file", "unix", "like/a/file"},
		{"no-port:", "unix", "no-port:"},
		{"/path/with/port:80", "unix", "/path/with/port:80"},
		{"host:80", "tcp", "host:80"},
		{"host:http", "tcp", "host:http"},
		{":1234", "tcp", ":1234"},
		{"[::1]:5678", "tcp", "[::1]:5678"},
		{"vsock:3:1024", "vsock", "3:1024"},
	}
	for _, test := range tests {
		got, addr := channel.SplitAddress(test.input)
		if got != test.want || addr != test.addr {
			t.Errorf("SplitAddress(%q): got (%q, %q), want (%q, %q)",
				test.input, got, addr, test.want, test.addr)
		}
	}
}
