package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// DefaultEventPort is the UDP destination port used by NewPCAPWriter.
const DefaultEventPort = 5555

const (
	pcapSnapLen   = 65536
	maxUDPPayload = 65535 - 20 - 8 // IPv4 total length minus IP and UDP headers
)

// pcapReader yields one Event per UDP payload. Packets without a UDP layer or
// with an empty payload are skipped, matching a live capture that may carry
// unrelated traffic.
type pcapReader struct {
	f      *os.File
	r      *pcapgo.Reader
	packet int
}

func openPCAP(path string) (recordReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	return &pcapReader{f: f, r: r}, nil
}

func (p *pcapReader) Read() (*Event, error) {
	for {
		data, _, err := p.r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("packet %d: %w", p.packet+1, err)
		}
		p.packet++

		packet := gopacket.NewPacket(data, p.r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(udp.Payload, &ev); err != nil {
			return nil, fmt.Errorf("packet %d: %w", p.packet, err)
		}
		return &ev, nil
	}
}

func (p *pcapReader) Close() error {
	return p.f.Close()
}

// PCAPWriter records events as UDP datagrams in a pcap file, the same framing
// a live event stream would have on the wire.
type PCAPWriter struct {
	w       *pcapgo.Writer
	eth     layers.Ethernet
	ip      layers.IPv4
	udp     layers.UDP
	clock   func() time.Time
	written int
}

// NewPCAPWriter writes the pcap file header to w and returns a writer that
// sends every event to DefaultEventPort on the loopback address.
func NewPCAPWriter(w io.Writer) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("writing pcap header: %w", err)
	}
	return &PCAPWriter{
		w: pw,
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02},
			EthernetType: layers.EthernetTypeIPv4,
		},
		ip: layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(127, 0, 0, 1),
			DstIP:    net.IPv4(127, 0, 0, 1),
		},
		udp: layers.UDP{
			SrcPort: layers.UDPPort(DefaultEventPort + 1),
			DstPort: layers.UDPPort(DefaultEventPort),
		},
		clock: time.Now,
	}, nil
}

// Write appends one event as a single packet.
func (p *PCAPWriter) Write(ev *Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", ev.ID, err)
	}
	if len(payload) > maxUDPPayload {
		return fmt.Errorf("event %s is %d bytes, exceeds UDP payload limit %d", ev.ID, len(payload), maxUDPPayload)
	}

	udp := p.udp
	ip := p.ip
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return err
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, &p.eth, &ip, &udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serializing event %s: %w", ev.ID, err)
	}

	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     p.clock(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := p.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("writing packet for event %s: %w", ev.ID, err)
	}
	p.written++
	return nil
}

// Written returns the number of packets written.
func (p *PCAPWriter) Written() int { return p.written }
