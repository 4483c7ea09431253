package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"sawit/internal/logger"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

var (
	jpegHeader = []byte{0xFF, 0xD8}
	jpegFooter = []byte{0xFF, 0xD9}
)

const (
	udpPacketSize = 65507
	// DefaultMaxFrameSize bounds one reassembled frame per sender.
	DefaultMaxFrameSize = udpPacketSize * 64
)

// UDPSource listens for JPEG frames sent by network cameras, split across
// datagrams. A datagram starting with the JPEG SOI marker begins a frame and
// one ending with the EOI marker completes it. Frames from all senders are
// merged into one stream. Datagrams from a sender with no frame in progress
// are ignored, and a frame growing past the size limit is discarded.
type UDPSource struct {
	conn     *net.UDPConn
	queue    *ChannelSource
	logger   *logger.Logger
	done     chan struct{}
	maxFrame atomic.Int64
	buffered atomic.Int64
}

// ListenUDP binds addr (e.g. ":5005") and starts reassembling frames.
// queueSize bounds the number of decoded frames waiting to be read.
func ListenUDP(addr string, queueSize int, logger *logger.Logger) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", addr, err)
	}

	s := &UDPSource{
		conn:   conn,
		queue:  NewChannelSource(queueSize),
		logger: logger,
		done:   make(chan struct{}),
	}
	s.maxFrame.Store(DefaultMaxFrameSize)
	go s.serve()

	logger.Info("UDP camera source listening on %s", conn.LocalAddr())
	return s, nil
}

// Addr returns the bound local address.
func (s *UDPSource) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// SetMaxFrameSize changes the per-sender frame limit in bytes.
func (s *UDPSource) SetMaxFrameSize(n int) {
	if n > 0 {
		s.maxFrame.Store(int64(n))
	}
}

// Buffered returns the bytes held for frames still being reassembled.
func (s *UDPSource) Buffered() int {
	return int(s.buffered.Load())
}

func (s *UDPSource) serve() {
	defer close(s.done)

	buffer := make([]byte, udpPacketSize)
	frames := make(map[string]*bytes.Buffer)

	for {
		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Error reading UDP packet: %v", err)
			continue
		}

		sender := remoteAddr.IP.String()
		data := buffer[:n]
		frame, inFrame := frames[sender]

		if bytes.HasPrefix(data, jpegHeader) {
			if inFrame {
				s.buffered.Add(-int64(frame.Len()))
				frame.Reset()
			} else {
				frame = new(bytes.Buffer)
				frames[sender] = frame
			}
		} else if !inFrame {
			continue
		}

		if int64(frame.Len()+len(data)) > s.maxFrame.Load() {
			s.logger.Warning("Dropping oversized frame from %s (%d bytes buffered)", sender, frame.Len())
			s.buffered.Add(-int64(frame.Len()))
			delete(frames, sender)
			continue
		}
		frame.Write(data)
		s.buffered.Add(int64(len(data)))

		if bytes.HasSuffix(data, jpegFooter) {
			s.emit(frame.Bytes(), sender)
			s.buffered.Add(-int64(frame.Len()))
			delete(frames, sender)
		}
	}
}

func (s *UDPSource) emit(jpeg []byte, sender string) {
	mat, err := gocv.IMDecode(jpeg, gocv.IMReadColor)
	if err != nil || mat.Empty() {
		if err == nil {
			mat.Close()
		}
		s.logger.Warning("Dropping undecodable frame from %s (%d bytes)", sender, len(jpeg))
		return
	}
	s.queue.Push(mat)
}

// Read returns the next reassembled frame.
func (s *UDPSource) Read(ctx context.Context) (gocv.Mat, error) {
	return s.queue.Read(ctx)
}

// Close stops the listener and releases queued frames.
func (s *UDPSource) Close() error {
	err := s.conn.Close()
	<-s.done
	return multierr.Append(err, s.queue.Close())
}
