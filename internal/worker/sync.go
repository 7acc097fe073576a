package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/agent"
	"github.com/aureeaubert/hull-closeio/internal/kafka"
	"github.com/aureeaubert/hull-closeio/internal/model"
	"go.uber.org/zap"
)

// Source is the part of the kafka consumer the worker uses.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Sender runs one sync batch.
type Sender interface {
	Send(ctx context.Context, kind model.EntityKind, msgs []model.UpdateMessage) (agent.Report, error)
}

// SyncWorker:
// - fetches notifications from Kafka,
// - buffers update messages per kind,
// - flushes a batch to the agent on size or time, then commits offsets.
type SyncWorker struct {
	Source Source
	Agent  Sender
	Log    *zap.Logger

	BatchSize int           // max buffered update messages per flush
	BatchWait time.Duration // max time to wait before flush
}

func NewSyncWorker(src Source, a Sender, log *zap.Logger) *SyncWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &SyncWorker{
		Source:    src,
		Agent:     a,
		Log:       log,
		BatchSize: 100,
		BatchWait: 2 * time.Second,
	}
}

type pending struct {
	byKind  map[model.EntityKind][]model.UpdateMessage
	offsets []kafka.Message
	size    int
}

func newPending() *pending {
	return &pending{byKind: make(map[model.EntityKind][]model.UpdateMessage)}
}

// Run blocks until ctx is cancelled or a batch fails on configuration.
func (w *SyncWorker) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 100
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 2 * time.Second
	}

	msgCh := make(chan kafka.Message, w.BatchSize)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			m, err := w.Source.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.Log.Warn("kafka fetch failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			select {
			case msgCh <- m:
			case <-ctx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	buf := newPending()
	retrying := false
	for {
		// while a failed batch waits for the next tick, stop reading so the
		// backlog stays in Kafka instead of in memory
		in := msgCh
		if retrying {
			in = nil
		}

		var err error
		select {
		case <-ctx.Done():
			_, err = w.flush(context.WithoutCancel(ctx), buf)
			return err

		case m, ok := <-in:
			if !ok {
				_, err = w.flush(context.WithoutCancel(ctx), buf)
				return err
			}
			w.add(buf, m)
			if buf.size < w.BatchSize {
				continue
			}
			buf, retrying, err = w.next(ctx, buf)

		case <-tick.C:
			buf, retrying, err = w.next(ctx, buf)
		}
		if err != nil {
			return err
		}
	}
}

func (w *SyncWorker) add(buf *pending, m kafka.Message) {
	buf.offsets = append(buf.offsets, m)

	var n model.Notification
	if err := json.Unmarshal(m.Value, &n); err != nil {
		w.Log.Warn("bad notification json, skipping", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	kind, ok := model.ParseEntityKind(n.Channel)
	if !ok {
		w.Log.Warn("unknown channel, skipping", zap.String("channel", n.Channel), zap.Int64("offset", m.Offset))
		return
	}
	buf.byKind[kind] = append(buf.byKind[kind], n.Messages...)
	buf.size += len(n.Messages)
}

// next flushes buf. After a commit it returns a fresh buffer; otherwise it
// returns buf itself and retry is set until a later tick succeeds.
func (w *SyncWorker) next(ctx context.Context, buf *pending) (*pending, bool, error) {
	done, err := w.flush(ctx, buf)
	if err != nil {
		return buf, false, err
	}
	if !done {
		return buf, true, nil
	}
	return newPending(), false, nil
}

// flush sends accounts before users so contacts can find their lead, then
// commits every offset read, poison messages included.
func (w *SyncWorker) flush(ctx context.Context, buf *pending) (bool, error) {
	if len(buf.offsets) == 0 {
		return true, nil
	}

	for _, kind := range []model.EntityKind{model.KindAccount, model.KindUser} {
		msgs := buf.byKind[kind]
		if len(msgs) == 0 {
			continue
		}
		rep, err := w.Agent.Send(ctx, kind, msgs)
		if errors.Is(err, model.ErrConfiguration) {
			w.Log.Error("sync aborted on configuration", zap.Error(err))
			return false, err
		}
		if err != nil {
			w.Log.Error("sync batch failed, retrying on next tick", zap.String("kind", kind.String()), zap.Error(err))
			return false, nil
		}
		w.Log.Info("sync batch flushed",
			zap.String("batch_id", rep.BatchID),
			zap.String("kind", kind.String()),
			zap.Int("messages", len(msgs)),
		)
	}

	if err := w.Source.Commit(ctx, buf.offsets...); err != nil {
		w.Log.Warn("kafka commit failed", zap.Error(err))
	}
	return true, nil
}
