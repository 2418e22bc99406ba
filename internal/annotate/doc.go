// Package annotate places and draws feedback callouts on video frames.
// Each annotation anchors a labeled box to a body point with a connector
// line; box geometry scales with the frame and clamps to the frame margins
// while the connector stays anchored.
package annotate
