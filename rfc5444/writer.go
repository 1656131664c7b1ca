package rfc5444

import (
	"fmt"

	"github.com/openolsr/olsrv2d/addr"
)

// Target is one candidate output (an interface's multicast socket for
// one address family). HELLO and TC providers select which targets a
// given message should be rendered for, enabling dual-stack elision.
type Target struct {
	Name   string
	Family addr.Family
}

// Provider renders one logical message for a selected target. Render
// may return a different message per target (e.g. a TC message that
// omits addresses the target's family can't carry).
type Provider interface {
	MessageType() uint8
	// Targets narrows candidates down to the targets this message
	// should be sent to.
	Targets(candidates []Target) []Target
	// Render builds the message to send to target. The returned
	// Message's Type/SeqNum fields are overwritten by the writer.
	Render(target Target) (Message, error)
}

// Writer multiplexes registered Providers over a set of candidate
// targets, handling per-message sequence numbering and fragmentation.
// It keeps no per-target socket state; callers still own the transport
// and receive back one or more already-encoded packets-worth of bytes
// per target.
type Writer struct {
	mtu       int
	seq       uint16
	providers []Provider
}

// NewWriter creates a Writer that fragments any message whose encoded
// length (message header, TLVs and address blocks) exceeds mtu bytes.
// The enclosing packet header is not counted against mtu.
func NewWriter(mtu int) *Writer {
	return &Writer{mtu: mtu}
}

// Register adds p to the set of providers polled on every Flush.
func (w *Writer) Register(p Provider) {
	w.providers = append(w.providers, p)
}

func (w *Writer) nextSeq() uint16 {
	w.seq++
	return w.seq
}

// Flush renders every registered provider's message against candidates
// and returns, per target, the list of encoded message byte slices
// ready to be wrapped in a packet (or packets, for MTU-exceeding
// messages) and sent.
func (w *Writer) Flush(candidates []Target) (map[Target][][]byte, error) {
	out := make(map[Target][][]byte)
	for _, p := range w.providers {
		targets := p.Targets(candidates)
		for _, t := range targets {
			m, err := p.Render(t)
			if err != nil {
				return nil, fmt.Errorf("rfc5444: provider for msg type %d failed rendering target %s: %w", p.MessageType(), t.Name, err)
			}
			m.Type = p.MessageType()
			frags, err := w.render(m, w.nextSeq())
			if err != nil {
				return nil, err
			}
			out[t] = append(out[t], frags...)
		}
	}
	return out, nil
}

// render encodes m, splitting it into multiple wire messages if it
// would exceed the writer's MTU. Fragmentation is only supported for
// single-address-block messages, which covers every HELLO/TC message
// this codec produces; a multi-block message that overflows the MTU is
// a caller error.
func (w *Writer) render(m Message, seqNum uint16) ([][]byte, error) {
	m.HasSeqNum = true
	m.SeqNum = seqNum

	buf, _, err := encodeMessage(nil, m)
	if err != nil {
		return nil, err
	}
	if w.mtu <= 0 || len(buf) <= w.mtu {
		return [][]byte{buf}, nil
	}
	if len(m.Blocks) != 1 {
		return nil, fmt.Errorf("rfc5444: message of %d bytes exceeds mtu %d and has %d address blocks (fragmentation needs exactly one)", len(buf), w.mtu, len(m.Blocks))
	}

	block := m.Blocks[0]
	n := len(block.Addresses)
	if n <= 1 {
		return nil, fmt.Errorf("rfc5444: single address already exceeds mtu (%d > %d)", len(buf), w.mtu)
	}

	var out [][]byte
	chunk := n
	for start := 0; start < n; {
		size := chunk
		if start+size > n {
			size = n - start
		}
		var encoded []byte
		for {
			frag := m
			frag.Blocks = []AddressBlock{sliceAddressBlock(block, start, start+size)}
			b, _, err := encodeMessage(nil, frag)
			if err != nil {
				return nil, err
			}
			if len(b) <= w.mtu || size == 1 {
				encoded = b
				break
			}
			size /= 2
		}
		out = append(out, encoded)
		start += size
		chunk = size
	}
	return out, nil
}

// sliceAddressBlock returns a new AddressBlock covering addresses
// [start,end) of block, re-indexing and slicing any per-address TLVs
// (including multivalue ones) to the fragment's local index space.
func sliceAddressBlock(block AddressBlock, start, end int) AddressBlock {
	addrs := append([]addr.Prefix(nil), block.Addresses[start:end]...)

	var tlvs []Tlv
	for _, t := range block.Tlvs {
		if !t.HasIndex {
			tlvs = append(tlvs, t)
			continue
		}
		lo0, hi0 := int(t.Index1), int(t.Index2)
		lo, hi := lo0, hi0
		if hi < start || lo >= end {
			continue
		}
		if lo < start {
			lo = start
		}
		if hi >= end {
			hi = end - 1
		}
		nt := t
		nt.Index1 = uint8(lo - start)
		nt.Index2 = uint8(hi - start)
		if t.MultiValue {
			nt.Values = append([][]byte(nil), t.Values[lo-lo0:hi-lo0+1]...)
		}
		tlvs = append(tlvs, nt)
	}
	return AddressBlock{Addresses: addrs, Tlvs: tlvs}
}
