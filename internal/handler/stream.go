package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"sawit/internal/capture"
	"sawit/internal/config"
	"sawit/internal/dto"
	"sawit/internal/logger"
	"sawit/internal/service"
	"sawit/internal/service/pipeline"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const streamWriteWait = 5 * time.Second

// StreamWebsocketHandler runs a live detection session over WebSocket.
// The client sends encoded frames as binary messages and may send
// {"threshold": x} as a text message; every processed frame comes back as a
// dto.FrameMessage in the order it was sent. Frames arriving faster than the
// detector keeps up with are dropped, oldest first.
func StreamWebsocketHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		defer connection.Close()

		id := uuid.NewString()
		src := capture.NewChannelSource(cfg.StreamQueueSize)
		stream := manager.StartSession(r.Context(), id, src)

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			writeResults(connection, stream, logger)
		}()

	readLoop:
		for {
			messageType, data, err := connection.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Warning("Stream session %s closed with error: %v", id, err)
				}
				break readLoop
			}

			switch messageType {
			case websocket.BinaryMessage:
				frame, err := pipeline.DecodeImage(data)
				if err != nil {
					logger.Warning("Stream session %s: %v", id, err)
					continue
				}
				if !src.Push(frame) {
					break readLoop
				}

			case websocket.TextMessage:
				var control dto.StreamControl
				if err := json.Unmarshal(data, &control); err != nil || control.Threshold == nil {
					logger.Warning("Stream session %s: ignoring control message %q", id, data)
					continue
				}
				if !validThreshold(*control.Threshold) {
					logger.Warning("Stream session %s: threshold %v out of range", id, *control.Threshold)
					continue
				}
				manager.Threshold().Store(*control.Threshold)
			}
		}

		stream.Stop()
		<-writerDone
	}
}

// writeResults is the only writer on connection. The connection is closed
// once the stream ends, which also ends the read loop.
func writeResults(connection *websocket.Conn, stream *pipeline.Stream, logger *logger.Logger) {
	defer connection.Close()

	failed := false
	for result := range stream.C() {
		if failed {
			result.Frame.Close()
			continue
		}

		msg, err := service.FrameMessage("", result)
		result.Frame.Close()
		if err != nil {
			logger.Error("Failed to encode frame %d: %v", result.Seq, err)
			continue
		}

		connection.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := connection.WriteMessage(websocket.TextMessage, msg); err != nil {
			logger.Warning("Failed to send frame %d: %v", result.Seq, err)
			failed = true
		}
	}
}
