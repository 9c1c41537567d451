package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs each blocking provider call with its duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []zap.Field{
			zap.String("provider", req.Provider),
			zap.String("model", req.Model),
			zap.Int("messages", len(req.Messages)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("llm complete failed", append(fields, zap.Error(err))...)
			return nil, err
		}
		logger.Debug("llm complete",
			append(fields,
				zap.String("finish", resp.FinishReason.Reason),
				zap.Int("output_tokens", resp.Usage.OutputTokens))...)
		return resp, nil
	}
}

// StreamLoggingMiddleware logs when a stream is opened and when it drains.
// Events are forwarded unchanged.
func StreamLoggingMiddleware(logger *zap.Logger) StreamMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		start := time.Now()
		in, err := next(ctx, req)
		if err != nil {
			logger.Warn("llm stream open failed",
				zap.String("provider", req.Provider),
				zap.String("model", req.Model),
				zap.Error(err))
			return nil, err
		}

		out := make(chan StreamEvent, cap(in))
		go func() {
			defer close(out)
			var deltas, calls int
			for ev := range in {
				switch ev.Type {
				case TextDelta:
					deltas++
				case ToolCallEnd:
					calls++
				case StreamError:
					logger.Warn("llm stream error", zap.String("provider", req.Provider), zap.Error(ev.Error))
				}
				out <- ev
			}
			logger.Debug("llm stream drained",
				zap.String("provider", req.Provider),
				zap.String("model", req.Model),
				zap.Int("text_deltas", deltas),
				zap.Int("tool_calls", calls),
				zap.Duration("elapsed", time.Since(start)))
		}()
		return out, nil
	}
}
