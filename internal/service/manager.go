package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"sawit/internal/capture"
	"sawit/internal/config"
	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/model"
	"sawit/internal/service/ai"
	"sawit/internal/service/pipeline"
	"sawit/internal/service/storage"
	"sawit/internal/service/websocket"

	"gocv.io/x/gocv"
)

// DetectResult is the outcome of a single-image request. Frame is valid even
// when SaveErr is set; the caller must close it.
type DetectResult struct {
	Frame   *model.AnnotatedFrame
	Record  *model.DetectionRecord
	SaveErr error
}

// Manager ties the pipeline to the store, the auto-save recorder and the
// viewer hub.
type Manager struct {
	pipeline  *pipeline.Pipeline
	store     *storage.DetectionStore
	recorder  *storage.Recorder
	hub       *websocket.HubService
	threshold *pipeline.Threshold
	logger    *logger.Logger
	autoSave  bool
	minScore  float64

	sessions   map[string]*pipeline.Stream
	sessionsMu sync.Mutex
	stopped    bool
}

func NewManager(p *pipeline.Pipeline, store *storage.DetectionStore, recorder *storage.Recorder, hub *websocket.HubService, threshold *pipeline.Threshold, config *config.Config, logger *logger.Logger) *Manager {
	return &Manager{
		pipeline:  p,
		store:     store,
		recorder:  recorder,
		hub:       hub,
		threshold: threshold,
		logger:    logger,
		autoSave:  config.AutoSave,
		minScore:  detectorMinScore(config),
		sessions:  make(map[string]*pipeline.Stream),
	}
}

// DetectImage runs single-image mode. With save set the annotated frame is
// persisted; a persistence failure is reported in SaveErr and the frame is
// still returned.
func (m *Manager) DetectImage(data []byte, threshold float64, save bool) (*DetectResult, error) {
	frame, err := m.pipeline.ProcessImage(data, threshold)
	if err != nil {
		return nil, err
	}

	result := &DetectResult{Frame: frame}
	if save {
		result.Record, result.SaveErr = m.store.Persist(frame)
		if result.SaveErr != nil {
			m.logger.Error("Failed to persist detection: %v", result.SaveErr)
		}
	}

	return result, nil
}

// StartSession starts a stream for a client connection. The session is
// forgotten once the stream stops. After Stop the returned stream is
// already stopped and never reaches the detector.
func (m *Manager) StartSession(ctx context.Context, id string, src capture.Source) *pipeline.Stream {
	m.sessionsMu.Lock()
	defer m.sessionsMu.Unlock()

	if m.stopped {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		stream := m.pipeline.ProcessStream(cancelled, src, m.threshold)
		stream.Stop()
		m.logger.Warning("Stream session %s rejected: shutting down", id)
		return stream
	}

	stream := m.pipeline.ProcessStream(ctx, src, m.threshold)
	m.sessions[id] = stream
	m.logger.Info("Stream session %s started", id)

	go func() {
		<-stream.Done()
		m.sessionsMu.Lock()
		delete(m.sessions, id)
		m.sessionsMu.Unlock()
		m.logger.Info("Stream session %s stopped (%+v)", id, stream.Stats())
	}()

	return stream
}

// RunCamera streams a server-side source to the viewer hub until the source
// ends or ctx is done. With auto-save enabled, frames with detections go to
// the recorder.
func (m *Manager) RunCamera(ctx context.Context, name string, src capture.Source) error {
	stream := m.pipeline.ProcessStream(ctx, src, m.threshold)
	defer stream.Stop()

	m.logger.Info("Camera %s streaming", name)
	for result := range stream.C() {
		if m.hub.GetClientCount() > 0 {
			msg, err := FrameMessage(name, result)
			if err != nil {
				m.logger.Error("Failed to encode frame %d from %s: %v", result.Seq, name, err)
			} else if !m.hub.Broadcast(msg) {
				m.logger.Warning("Viewers too slow, frame %d from %s not sent", result.Seq, name)
			}
		}

		if m.autoSave && m.recorder != nil {
			m.recorder.Add(result.Frame, name)
		}
		result.Frame.Close()
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("camera %s: %w", name, err)
	}
	m.logger.Info("Camera %s finished", name)
	return nil
}

// Threshold returns the shared confidence threshold.
func (m *Manager) Threshold() *pipeline.Threshold {
	return m.threshold
}

// DetectorMinScore returns the score below which the detector reports no
// candidates, whatever the threshold.
func (m *Manager) DetectorMinScore() float64 {
	return m.minScore
}

func detectorMinScore(config *config.Config) float64 {
	if config.DetectorMinScore <= 0 {
		return ai.DefaultMinScore
	}
	return config.DetectorMinScore
}

// Store returns the detection store.
func (m *Manager) Store() *storage.DetectionStore {
	return m.store
}

// Hub returns the viewer hub.
func (m *Manager) Hub() *websocket.HubService {
	return m.hub
}

// Stats collects pipeline counters and service state.
func (m *Manager) Stats() dto.Stats {
	p := m.pipeline.Stats()

	m.sessionsMu.Lock()
	sessions := len(m.sessions)
	m.sessionsMu.Unlock()

	records, err := m.store.Count()
	if err != nil {
		m.logger.Warning("Failed to count records: %v", err)
	}

	return dto.Stats{
		Threshold:     m.threshold.Load(),
		Processed:     p.Processed,
		Dropped:       p.Dropped,
		Failed:        p.Failed,
		ReadErrors:    p.ReadErrors,
		ActiveStreams: p.ActiveStreams,
		Sessions:      sessions,
		Viewers:       m.hub.GetClientCount(),
		Records:       records,
	}
}

// Stop ends every client session and waits for them. Sessions started
// afterwards are stopped immediately. Safe to call more than once.
func (m *Manager) Stop() {
	m.sessionsMu.Lock()
	m.stopped = true
	streams := make([]*pipeline.Stream, 0, len(m.sessions))
	for _, s := range m.sessions {
		streams = append(streams, s)
	}
	m.sessionsMu.Unlock()

	for _, s := range streams {
		s.Stop()
	}
	m.logger.Info("All stream sessions stopped")
}

// FrameMessage encodes a stream result as a JSON websocket message.
func FrameMessage(camera string, result pipeline.Result) ([]byte, error) {
	encoded, err := EncodeImage(".jpg", result.Frame.Image)
	if err != nil {
		return nil, err
	}

	return json.Marshal(dto.FrameMessage{
		Camera:     camera,
		Seq:        result.Seq,
		Image:      base64.StdEncoding.EncodeToString(encoded),
		Detections: dto.DetectionItems(result.Frame.Detections),
	})
}

// EncodeImage encodes img with the codec selected by ext (".jpg", ".png").
func EncodeImage(ext gocv.FileExt, img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(ext, img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
