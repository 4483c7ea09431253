package capture

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"sawit/internal/config"
	"sawit/internal/logger"

	"gocv.io/x/gocv"
)

func newFrame(rows int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(30, 60, 90, 0), rows, 64, gocv.MatTypeCV8UC3)
}

func TestReplaySource_Playback(t *testing.T) {
	frame1 := newFrame(10)
	defer frame1.Close()
	frame2 := newFrame(20)
	defer frame2.Close()

	src := NewReplaySource([]gocv.Mat{frame1, frame2}, false)
	defer src.Close()

	ctx := context.Background()
	for _, rows := range []int{10, 20} {
		f, err := src.Read(ctx)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if f.Rows() != rows {
			t.Errorf("expected %d rows, got %d", rows, f.Rows())
		}
		f.Close()
	}

	if _, err := src.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after all frames consumed, got %v", err)
	}
	if src.Reads() != 2 {
		t.Errorf("expected 2 reads, got %d", src.Reads())
	}
}

func TestReplaySource_Loop(t *testing.T) {
	frame := newFrame(8)
	defer frame.Close()

	src := NewReplaySource([]gocv.Mat{frame}, true)
	defer src.Close()

	for i := 0; i < 5; i++ {
		f, err := src.Read(context.Background())
		if err != nil {
			t.Fatalf("Read() iteration %d error = %v", i, err)
		}
		f.Close()
	}
}

func TestReplaySource_DelayHonoursContext(t *testing.T) {
	frame := newFrame(8)
	defer frame.Close()

	src := NewReplaySource([]gocv.Mat{frame}, true)
	src.SetDelay(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := src.Read(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestChannelSource_DropsOldest(t *testing.T) {
	src := NewChannelSource(1)
	defer src.Close()

	for _, rows := range []int{10, 20, 30} {
		if !src.Push(newFrame(rows)) {
			t.Fatal("Push() returned false on open source")
		}
	}

	f, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	defer f.Close()

	if f.Rows() != 30 {
		t.Errorf("expected newest frame (30 rows), got %d", f.Rows())
	}
	if src.Dropped() != 2 {
		t.Errorf("expected 2 dropped frames, got %d", src.Dropped())
	}
}

func TestChannelSource_Close(t *testing.T) {
	src := NewChannelSource(2)
	src.Push(newFrame(10))
	src.Close()

	if _, err := src.Read(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after Close, got %v", err)
	}
	if src.Push(newFrame(10)) {
		t.Error("expected Push to fail on closed source")
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestChannelSource_ReadBlocksUntilPush(t *testing.T) {
	src := NewChannelSource(1)
	defer src.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		src.Push(newFrame(12))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	f, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	f.Close()
}

func TestUDPSource_ReassemblesJPEG(t *testing.T) {
	log := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	defer log.Close()

	src, err := ListenUDP("127.0.0.1:0", 1, log)
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer src.Close()

	frame := newFrame(48)
	defer frame.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		t.Fatalf("IMEncode() error = %v", err)
	}
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	conn, err := net.Dial("udp", src.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	half := len(jpeg) / 2
	conn.Write(jpeg[:half])
	conn.Write(jpeg[half:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	defer got.Close()

	if got.Rows() != 48 || got.Cols() != 64 {
		t.Errorf("expected 64x48 frame, got %dx%d", got.Cols(), got.Rows())
	}
}

func TestUDPSource_DiscardsStrayAndOversizedData(t *testing.T) {
	log := logger.NewLogger(&config.Config{LogDirectory: t.TempDir()})
	defer log.Close()

	src, err := ListenUDP("127.0.0.1:0", 1, log)
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	defer src.Close()
	src.SetMaxFrameSize(4096)

	frame := newFrame(48)
	defer frame.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		t.Fatalf("IMEncode() error = %v", err)
	}
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()
	if len(jpeg) > 4096 {
		t.Fatalf("test frame too large: %d bytes", len(jpeg))
	}

	conn, err := net.Dial("udp", src.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	filler := make([]byte, 3000)
	start := append([]byte{0xFF, 0xD8}, filler...)

	// no frame in progress: ignored
	for i := 0; i < 3; i++ {
		conn.Write(filler)
	}
	// frame that never ends and outgrows the limit
	conn.Write(start)
	conn.Write(filler)
	conn.Write(filler)
	// a complete frame afterwards is still delivered
	conn.Write(jpeg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	got.Close()

	if n := src.Buffered(); n != 0 {
		t.Errorf("expected no bytes held after stray and oversized data, got %d", n)
	}
}

func TestOpenVideo_MissingFile(t *testing.T) {
	if _, err := OpenVideo(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("expected error opening a missing video")
	}
}
