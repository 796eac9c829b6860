// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/procsim/services/procsim/datatypes"
	"github.com/AleutianAI/procsim/services/procsim/facade"
)

const (
	// MinStreamIntervalMs is the fastest push cadence a client may ask for.
	MinStreamIntervalMs = 50

	streamWriteTimeout = 10 * time.Second
)

// Stream instruments report through the global OTel meter provider; they are
// no-ops until telemetry.Init installs one.
var (
	streamMeter = otel.Meter("procsim/handlers")

	streamFrames, _ = streamMeter.Int64Counter("procsim.stream.frames",
		metric.WithDescription("Frames pushed to websocket clients"))
	streamActive, _ = streamMeter.Int64UpDownCounter("procsim.stream.active",
		metric.WithDescription("Open websocket streams"))
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// StreamProcesses handles GET /ws/processes?ms=.
//
// # Description
//
// Upgrades to a websocket and pushes a StreamFrame (population + stats from
// one consistent read) immediately and then every ms milliseconds. The
// stream ends when the client disconnects, a write fails, or the request
// context is cancelled. Client messages are read and discarded.
//
// # Inputs
//
//   - f: Source of the population.
//   - defaultInterval: Push cadence when ?ms is absent.
func StreamProcesses(f *facade.Facade, defaultInterval time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ms, ok := queryInt(c, "ms", defaultInterval.Milliseconds(), MinStreamIntervalMs, MaxIntervalMs)
		if !ok {
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		streamID := uuid.New().String()
		slog.Info("Process stream opened", "stream_id", streamID, "interval_ms", ms)
		streamActive.Add(c.Request.Context(), 1)
		defer streamActive.Add(context.Background(), -1)

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		go discardIncoming(ws, cancel)

		ticker := time.NewTicker(time.Duration(ms) * time.Millisecond)
		defer ticker.Stop()

		var seq uint64
		for {
			seq++
			processes, stats := f.Observe(ctx)
			frame := datatypes.StreamFrame{
				StreamID:  streamID,
				Sequence:  seq,
				Processes: processes,
				Stats:     stats,
			}
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteJSON(frame); err != nil {
				slog.Info("Process stream closed", "stream_id", streamID, "frames", seq-1, "error", err)
				return
			}
			streamFrames.Add(ctx, 1)

			select {
			case <-ctx.Done():
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				slog.Info("Process stream closed", "stream_id", streamID, "frames", seq)
				return
			case <-ticker.C:
			}
		}
	}
}

// discardIncoming drains client frames so control messages are processed,
// and cancels the stream once the connection is gone.
func discardIncoming(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := ws.NextReader(); err != nil {
			return
		}
	}
}
