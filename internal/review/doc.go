// Package review drives feedback presentation during video review
// playback. A Monitor watches the playback position and, when it crosses a
// timeline event, pauses the player on the exact frame, presents the
// event's feedback, and resumes after a dwell period.
package review
