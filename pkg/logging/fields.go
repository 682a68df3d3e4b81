package logging

import (
	"log/slog"
	"time"
)

// Session identifiers

func Client(id string) slog.Attr {
	return slog.String("client_id", id)
}

func Peer(id string) slog.Attr {
	return slog.String("peer_id", id)
}

// Frame records a websocket opcode (1 text, 2 binary).
func Frame(opcode int) slog.Attr {
	return slog.Int("frame_type", opcode)
}

// Stream processing

func Stream(name string) slog.Attr {
	return slog.String("stream", name)
}

func Group(name string) slog.Attr {
	return slog.String("group", name)
}

func Consumer(name string) slog.Attr {
	return slog.String("consumer", name)
}

func Entry(id string) slog.Attr {
	return slog.String("entry_id", id)
}

func Batch(n int) slog.Attr {
	return slog.Int("batch_size", n)
}

func Elapsed(d time.Duration) slog.Attr {
	return slog.Duration("elapsed", d)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
