package detect

import (
	"context"
	"errors"
	"fmt"
)

// NotifyResult counts delivered and failed messages.
type NotifyResult struct {
	Sent   int
	Failed int
}

// Notifier delivers formatted reports through a Transport, batched or one
// message per record. It is the only place transport failures are handled:
// they are logged, written to an error artifact and never returned.
type Notifier struct {
	transport Transport
	formatter *ReportFormatter
	artifacts ArtifactWriter
	logger    Logger
	cfg       RunConfig
}

// NewNotifier creates a Notifier for one run.
func NewNotifier(cfg RunConfig, transport Transport, formatter *ReportFormatter, artifacts ArtifactWriter, logger Logger) *Notifier {
	return &Notifier{
		transport: transport,
		formatter: formatter,
		artifacts: artifacts,
		logger:    logger,
		cfg:       cfg,
	}
}

// Notify reports records created since the given watermark.
func (n *Notifier) Notify(ctx context.Context, records []ChangeRecord, since Watermark) NotifyResult {
	var res NotifyResult
	if len(records) == 0 {
		return res
	}

	if n.cfg.OneMail {
		n.deliver(ctx, n.formatter.FormatBatch(records, since), &res)
		return res
	}

	for _, rec := range records {
		n.deliver(ctx, n.formatter.Format(rec, since), &res)
	}
	return res
}

func (n *Notifier) deliver(ctx context.Context, body string, res *NotifyResult) {
	msg := Message{
		From:       n.cfg.From,
		Recipients: n.cfg.Recipients,
		Subject:    n.cfg.Subject,
		Body:       body,
	}

	err := n.transport.Send(ctx, msg)
	if err == nil {
		res.Sent++
		n.logger.Debug("notification sent", "transport", n.transport.Name(), "recipients", len(msg.Recipients))
		return
	}

	var terr *TransportError
	if !errors.As(err, &terr) {
		terr = &TransportError{Transport: n.transport.Name(), Err: err}
	}
	res.Failed++
	n.logger.Error("notification not delivered", "transport", terr.Transport, "error", terr.Err)

	text := fmt.Sprintf("A notification error occurred while sending through the %s transport:\n%v\n\n"+
		"Please ensure the transport settings are correct in your configuration file", terr.Transport, terr.Err)
	if path, werr := n.artifacts.Write(text); werr != nil {
		n.logger.Error("writing error artifact", "error", werr)
	} else {
		n.logger.Info("error artifact written", "path", path)
	}
}
