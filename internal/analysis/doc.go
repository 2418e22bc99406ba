// Package analysis talks to the motion analysis backend: full-video form
// scoring and per-frame body coordinate lookup, plus the pipeline that
// turns analysis timestamps into annotated feedback frames.
package analysis
