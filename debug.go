package posixquic

import (
	"strings"

	"github.com/okdaichi/posixquic/diag"
	"github.com/okdaichi/posixquic/entry"
	"github.com/okdaichi/posixquic/epoll"
)

var separator = strings.Repeat("=", 30) + "\n"

// DebugInfo dumps the sections of mask: epoll instances, then connections,
// then streams, each followed by a separator line.
func (s *System) DebugInfo(mask diag.Source) string {
	var sb strings.Builder
	sb.WriteString(separator)

	if mask.Has(diag.SourceEpoll) {
		s.epollers.Foreach(func(_ int, ep *epoll.Epoller) {
			sb.WriteString(ep.DebugInfo(1))
			sb.WriteString("\n")
		})
		sb.WriteString(separator)
	}

	var conns, streams strings.Builder
	if mask.Has(diag.SourceConnection) || mask.Has(diag.SourceStream) {
		s.entries.Foreach(func(_ int, e entry.Entry) {
			switch e.Category() {
			case entry.CategoryConnection:
				if mask.Has(diag.SourceConnection) {
					conns.WriteString(e.DebugInfo(1))
				}
			case entry.CategoryStream:
				if mask.Has(diag.SourceStream) {
					streams.WriteString(e.DebugInfo(1))
				}
			}
		})
	}

	sb.WriteString(conns.String())
	sb.WriteString(separator)
	sb.WriteString(streams.String())
	sb.WriteString(separator)
	return sb.String()
}
