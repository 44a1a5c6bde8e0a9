package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/engine"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/transport/jetstream"
	"github.com/matheus3301/chatsync/internal/transport/loopback"
	"go.uber.org/zap"
)

const dialTimeout = 10 * time.Second

// Network is the transport the engine talks through, plus the in-process
// peers that answer on the loopback relay.
type Network struct {
	Transport transport.Transport
	Kind      string
	// DetectGaps is set when the transport numbers each conversation
	// contiguously.
	DetectGaps bool

	hub   *loopback.Hub
	peers []*simulatedPeer
}

// Close stops the peers and the transport.
func (n *Network) Close() error {
	for _, p := range n.peers {
		p.stop()
	}
	return n.Transport.Close()
}

func provideNetwork(cfg *config.Config, db *store.DB, seed *engine.Seed, logger *zap.Logger) (*Network, error) {
	switch cfg.Transport.Kind {
	case config.TransportJetStream:
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		client, err := jetstream.Dial(ctx, jetstream.Config{
			URL:    cfg.Transport.NATSURL,
			Stream: cfg.Transport.Stream,
		}, logger.Named("jetstream"))
		if err != nil {
			return nil, err
		}
		return &Network{Transport: client, Kind: config.TransportJetStream}, nil
	case config.TransportLoopback:
		return newLoopbackNetwork(cfg, db, seed, logger)
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport.Kind)
}

// newLoopbackNetwork starts an in-process relay that already knows every
// persisted and seeded conversation, so a restarted daemon can keep
// sending.
func newLoopbackNetwork(cfg *config.Config, db *store.DB, seed *engine.Seed, logger *zap.Logger) (*Network, error) {
	hub := loopback.NewHub(logger.Named("relay"))
	now := time.Now()

	st, err := db.LoadState(now)
	if err != nil {
		return nil, err
	}
	for _, c := range st.Conversations {
		hub.Register(c)
	}
	for id, seq := range st.HighWaterMarks {
		hub.Resume(id, seq)
	}
	if seed != nil {
		_, convs, err := seed.Build(now)
		if err != nil {
			return nil, err
		}
		for _, c := range convs {
			hub.Register(c)
		}
	}

	n := &Network{
		Transport:  hub.Connect(cfg.Identity.UserID, cfg.Identity.DeviceID),
		Kind:       config.TransportLoopback,
		DetectGaps: true,
		hub:        hub,
	}
	for _, id := range cfg.Transport.Peers {
		if id == "" || id == cfg.Identity.UserID {
			continue
		}
		n.peers = append(n.peers, startPeer(hub.Connect(id, "simulated"), defaultReadDelay, logger))
	}
	if len(n.peers) > 0 {
		logger.Info("simulated peers connected", zap.Strings("peers", cfg.Transport.Peers))
	}
	return n, nil
}

const defaultReadDelay = 1500 * time.Millisecond

// simulatedPeer acknowledges every message it receives: a delivery receipt
// at once and a read receipt after readDelay.
type simulatedPeer struct {
	link      *loopback.Link
	readDelay time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startPeer(link *loopback.Link, readDelay time.Duration, logger *zap.Logger) *simulatedPeer {
	ctx, cancel := context.WithCancel(context.Background())
	p := &simulatedPeer{
		link:      link,
		readDelay: readDelay,
		logger:    logger.Named("peer").With(zap.String("user_id", link.UserID())),
		cancel:    cancel,
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
	return p
}

func (p *simulatedPeer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-p.link.Events():
			if !ok {
				return
			}
			if evt.Type != transport.NewMessage || evt.Message == nil || evt.Message.SenderID == p.link.UserID() {
				continue
			}
			p.receipt(ctx, transport.DeliveryReceipt, evt)
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				t := time.NewTimer(p.readDelay)
				defer t.Stop()
				select {
				case <-t.C:
					p.receipt(ctx, transport.ReadReceipt, evt)
				case <-ctx.Done():
				}
			}()
		}
	}
}

func (p *simulatedPeer) receipt(ctx context.Context, kind transport.EventType, evt transport.Event) {
	err := p.link.Publish(ctx, transport.Event{
		Type:           kind,
		ConversationID: evt.ConversationID,
		Receipt:        &transport.Receipt{UserID: p.link.UserID(), UptoSeq: evt.Seq},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Debug("receipt not sent", zap.Error(err), zap.String("type", string(kind)))
	}
}

func (p *simulatedPeer) stop() {
	p.cancel()
	_ = p.link.Close()
	p.wg.Wait()
}
