package queue

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Producer publishes import envelopes. Publish never returns an error: a
// transport outage must not block job submission, so failures are logged and
// reported as false.
type Producer struct {
	sender Sender
	logger *slog.Logger
}

// NewProducer creates a Producer over sender. A nil logger uses slog.Default.
func NewProducer(sender Sender, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{sender: sender, logger: logger}
}

// Publish announces a job whose file was staged locally.
func (p *Producer) Publish(ctx context.Context, jobID, localPath, fileName, usuario string, metadata map[string]any) bool {
	return p.publish(ctx, Envelope{
		JobID:     jobID,
		LocalPath: localPath,
		FileName:  fileName,
		Usuario:   usuario,
		Metadata:  metadata,
	})
}

// PublishRemote announces a job whose file lives in object storage.
func (p *Producer) PublishRemote(ctx context.Context, jobID, remoteKey, fileName, usuario string, metadata map[string]any) bool {
	return p.publish(ctx, Envelope{
		JobID:     jobID,
		RemoteKey: remoteKey,
		FileName:  fileName,
		Usuario:   usuario,
		Metadata:  metadata,
	})
}

func (p *Producer) publish(ctx context.Context, env Envelope) bool {
	if p == nil || p.sender == nil {
		return false
	}

	payload, err := json.Marshal(env)
	if err != nil {
		p.logger.Error("encode envelope", "job_id", env.JobID, "error", err)
		return false
	}

	if err := p.sender.Send(ctx, payload); err != nil {
		p.logger.Error("publish envelope", "job_id", env.JobID, "error", err)
		return false
	}

	p.logger.Info("envelope published", "job_id", env.JobID, "remote", env.IsRemote())
	return true
}
