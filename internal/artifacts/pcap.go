package artifacts

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

type pcapReader struct {
	f     *os.File
	src   packetSource
	index int
	stats Stats
	done  bool
}

// openPacketCapture decodes classic pcap and pcapng captures.
func openPacketCapture(path string, _ Options) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	br := bufio.NewReader(f)
	head, _ := br.Peek(4)
	var src packetSource
	if bytes.Equal(head, pcapngMagic) {
		src, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		src, err = pcapgo.NewReader(br)
	}
	if err != nil {
		_ = f.Close()
		return nil, unreadable(path, err)
	}
	return &pcapReader{f: f, src: src}, nil
}

func (r *pcapReader) Next(ctx context.Context) (Entry, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if r.done {
		return nil, io.EOF
	}
	data, ci, err := r.src.ReadPacketData()
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) {
			r.stats.Corrupt++
		}
		return nil, io.EOF
	}
	r.index++
	p := &Packet{Index: r.index, Timestamp: ci.Timestamp, Length: ci.Length}
	if p.Length == 0 {
		p.Length = len(data)
	}
	describePacket(p, gopacket.NewPacket(data, r.src.LinkType(), gopacket.Default))
	return p, nil
}

// describePacket fills the network and transport summary. Frames without a
// network layer fall back to link-layer addresses.
func describePacket(p *Packet, pkt gopacket.Packet) {
	if nl := pkt.NetworkLayer(); nl != nil {
		src, dst := nl.NetworkFlow().Endpoints()
		p.Network = nl.LayerType().String()
		p.Src, p.Dst = src.String(), dst.String()
	} else if ll := pkt.LinkLayer(); ll != nil {
		src, dst := ll.LinkFlow().Endpoints()
		p.Network = ll.LayerType().String()
		p.Src, p.Dst = src.String(), dst.String()
	}
	switch {
	case pkt.TransportLayer() != nil:
		tl := pkt.TransportLayer()
		p.Protocol = tl.LayerType().String()
		switch t := tl.(type) {
		case *layers.TCP:
			p.SrcPort, p.DstPort = strconv.Itoa(int(t.SrcPort)), strconv.Itoa(int(t.DstPort))
		case *layers.UDP:
			p.SrcPort, p.DstPort = strconv.Itoa(int(t.SrcPort)), strconv.Itoa(int(t.DstPort))
		default:
			sp, dp := tl.TransportFlow().Endpoints()
			p.SrcPort, p.DstPort = sp.String(), dp.String()
		}
	case pkt.Layer(layers.LayerTypeICMPv4) != nil:
		p.Protocol = layers.LayerTypeICMPv4.String()
	case pkt.Layer(layers.LayerTypeICMPv6) != nil:
		p.Protocol = layers.LayerTypeICMPv6.String()
	case pkt.Layer(layers.LayerTypeARP) != nil:
		p.Protocol = layers.LayerTypeARP.String()
	}
}

func (r *pcapReader) Stats() Stats { return r.stats }

func (r *pcapReader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
