package analysis

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"testing"
)

type fakeCoordClient struct {
	coords []Coordinate
	err    error
	calls  int
}

func (f *fakeCoordClient) Coordinates(ctx context.Context, frameJPEG []byte, sport string, parts []string) ([]Coordinate, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.coords, nil
}

func frameJPEG(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return buf.Bytes()
}

func testResult() *Result {
	return &Result{
		Timestamps: []TimestampFeedback{
			{
				Frame:       10,
				Timestamp:   1.0,
				DisplayTime: "00:01:000",
				Issue:       "elbow drop",
				Feedback:    map[string]string{"arms": "raise the elbow"},
				Statuses:    map[string]string{"arms": "fix"},
			},
			{
				Frame:       20,
				Timestamp:   2.0,
				DisplayTime: "00:02:000",
				Issue:       "good stance",
				Feedback:    map[string]string{"legs": "solid base"},
				Statuses:    map[string]string{"legs": "pass"},
			},
		},
	}
}

func TestRenderFeedbackFramesAnnotates(t *testing.T) {
	raw := frameJPEG(t)
	client := &fakeCoordClient{coords: []Coordinate{
		{Part: "arms", Label: "elbow", X: 40, Y: 30, LabelSide: "left", Status: "fix"},
	}}

	frames := map[int][]byte{10: raw, 20: raw}
	out := RenderFeedbackFrames(context.Background(), client, "tennis", testResult(), frames, nil)

	if len(out) != 2 {
		t.Fatalf("expected 2 feedback frames, got %d", len(out))
	}
	for i, ff := range out {
		if !ff.Annotated {
			t.Errorf("frame %d not annotated", i)
		}
		if len(ff.JPEG) == 0 {
			t.Errorf("frame %d has no image", i)
		}
		if _, err := jpeg.Decode(bytes.NewReader(ff.JPEG)); err != nil {
			t.Errorf("frame %d is not valid JPEG: %v", i, err)
		}
	}
	if client.calls != 2 {
		t.Errorf("expected 2 coordinate lookups, got %d", client.calls)
	}
}

func TestRenderFeedbackFramesFallsBack(t *testing.T) {
	raw := frameJPEG(t)
	client := &fakeCoordClient{err: ErrMalformed}

	frames := map[int][]byte{10: raw, 20: raw}
	out := RenderFeedbackFrames(context.Background(), client, "tennis", testResult(), frames, nil)

	if len(out) != 2 {
		t.Fatalf("expected 2 feedback frames, got %d", len(out))
	}
	for i, ff := range out {
		if ff.Annotated {
			t.Errorf("frame %d marked annotated despite failure", i)
		}
		if !bytes.Equal(ff.JPEG, raw) {
			t.Errorf("frame %d is not the unannotated original", i)
		}
	}
}

func TestRenderFeedbackFramesSkipsMissingFrames(t *testing.T) {
	raw := frameJPEG(t)
	client := &fakeCoordClient{coords: []Coordinate{
		{Part: "arms", Label: "elbow", X: 40, Y: 30, LabelSide: "left"},
	}}

	frames := map[int][]byte{10: raw} // frame 20 missing
	out := RenderFeedbackFrames(context.Background(), client, "tennis", testResult(), frames, nil)

	if len(out) != 1 {
		t.Fatalf("expected 1 feedback frame, got %d", len(out))
	}
	if out[0].Timestamp != 1.0 {
		t.Errorf("kept the wrong timestamp: %v", out[0].Timestamp)
	}
}
