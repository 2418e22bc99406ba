package analysis

import (
	"bytes"
	"context"
	"image/jpeg"
	"log/slog"
	"sort"

	"github.com/YingzeHou/kinetiq-media-service/internal/annotate"
)

// CoordinateClient is the part of the analysis client the feedback frame
// pipeline needs
type CoordinateClient interface {
	Coordinates(ctx context.Context, frameJPEG []byte, sport string, parts []string) ([]Coordinate, error)
}

// FeedbackFrame is one rendered feedback moment
type FeedbackFrame struct {
	Timestamp   float64 `json:"timestamp"`
	DisplayTime string  `json:"displayTime"`
	Issue       string  `json:"issue"`
	JPEG        []byte  `json:"-"`
	Annotated   bool    `json:"annotated"`
}

// RenderFeedbackFrames glues coordinate lookup and annotation rendering
// for every timestamp in an analysis result. frames maps frame index to
// the extracted JPEG. Each timestamp is independently fallible: when its
// frame is missing, coordinates fail, or rendering fails, the unannotated
// frame (if any) is used instead and the rest of the pipeline continues.
func RenderFeedbackFrames(ctx context.Context, client CoordinateClient, sport string, result *Result, frames map[int][]byte, logger *slog.Logger) []FeedbackFrame {
	if logger == nil {
		logger = slog.Default()
	}

	out := make([]FeedbackFrame, 0, len(result.Timestamps))

	for _, ts := range result.Timestamps {
		raw, ok := frames[ts.Frame]
		if !ok {
			logger.Warn("No frame extracted for timestamp",
				slog.Int("frame", ts.Frame),
				slog.Float64("timestamp", ts.Timestamp))
			continue
		}

		ff := FeedbackFrame{
			Timestamp:   ts.Timestamp,
			DisplayTime: ts.DisplayTime,
			Issue:       ts.Issue,
			JPEG:        raw,
		}

		if annotated, err := annotateFrame(ctx, client, sport, raw, ts); err != nil {
			logger.Warn("Falling back to unannotated frame",
				slog.Int("frame", ts.Frame),
				slog.String("error", err.Error()))
		} else {
			ff.JPEG = annotated
			ff.Annotated = true
		}

		out = append(out, ff)
	}

	return out
}

func annotateFrame(ctx context.Context, client CoordinateClient, sport string, raw []byte, ts TimestampFeedback) ([]byte, error) {
	parts := feedbackParts(ts)
	if len(parts) == 0 {
		return nil, ErrMalformed
	}

	coords, err := client.Coordinates(ctx, raw, sport, parts)
	if err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	annotations := make([]annotate.Annotation, 0, len(coords))
	for _, coord := range coords {
		status := coord.Status
		if s, ok := ts.Statuses[coord.Part]; ok {
			status = s
		}
		annotations = append(annotations, annotate.Annotation{
			X:      coord.X,
			Y:      coord.Y,
			Label:  coord.Label,
			Side:   annotate.Side(coord.LabelSide),
			Status: annotate.Status(status),
		})
	}

	rendered, _ := annotate.Render(img, annotations, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rendered, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// feedbackParts returns the body parts mentioned by a timestamp, in
// stable order
func feedbackParts(ts TimestampFeedback) []string {
	parts := make([]string, 0, len(ts.Feedback))
	for part := range ts.Feedback {
		parts = append(parts, part)
	}
	sort.Strings(parts)
	return parts
}
