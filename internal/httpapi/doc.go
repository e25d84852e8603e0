// Package httpapi serves the daemon's HTTP surface: status, batch
// submission and history, the progress event feed (cursor pages or SSE),
// and prometheus metrics.
//
// Handlers stay thin: they translate between HTTP and the daemon control
// surface, mapping service sentinels onto status codes. Streaming uses a
// bus subscription with cursor replay so clients can resume after a
// disconnect.
package httpapi
