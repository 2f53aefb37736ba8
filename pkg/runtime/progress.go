package runtime

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/docker/docker/pkg/jsonmessage"
)

// aggregatePullProgress consumes the engine's pull status stream and folds
// the per-layer byte counters into a single 0-100 percentage with a human
// status line.
func aggregatePullProgress(r io.Reader, progress ProgressFunc) error {
	type layerProgress struct {
		current int64
		total   int64
	}
	layers := make(map[string]*layerProgress)

	dec := json.NewDecoder(r)
	lastPercent := -1

	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("failed to decode pull status: %w", err)
		}
		if msg.Error != nil {
			return fmt.Errorf("pull failed: %s", msg.Error.Message)
		}

		if msg.ID != "" && msg.Progress != nil && msg.Progress.Total > 0 {
			layer, ok := layers[msg.ID]
			if !ok {
				layer = &layerProgress{}
				layers[msg.ID] = layer
			}
			layer.current = msg.Progress.Current
			layer.total = msg.Progress.Total
		}

		var current, total int64
		for _, layer := range layers {
			current += layer.current
			total += layer.total
		}
		if total == 0 {
			continue
		}

		percent := int(current * 100 / total)
		if percent > 99 {
			// Hold 100 until the pull stream actually ends.
			percent = 99
		}
		if percent != lastPercent {
			lastPercent = percent
			status := msg.Status
			if msg.ID != "" {
				status = fmt.Sprintf("%s: %s", msg.ID, msg.Status)
			}
			progress(percent, status)
		}
	}
}
