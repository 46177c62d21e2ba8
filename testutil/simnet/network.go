// Package simnet is an in-memory pair of ledgers bridged by a simulated relayer.
// Ledgers implement ibc.Chain; the relayer delivers packets, acknowledges them,
// distributes packet fees and walks channel handshakes, one step per relay round.
package simnet

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/cosmos/cosmos-sdk/types/bech32"
	"go.uber.org/zap"

	"github.com/dymensionxyz/ibc-convergence/ibc"
)

// RelayerKey is the key name of the relayer account on every ledger.
const RelayerKey = "relayer"

// EscrowPolicy mirrors how the fee module of the simulated ledgers locks fees.
type EscrowPolicy int

const (
	LockMax EscrowPolicy = iota
	LockSum
)

// Faults inject protocol bugs into the simulated relayer and ledgers.
type Faults struct {
	// Stalled stops the relayer from doing anything.
	Stalled bool
	// DuplicateRecordOnRecv emits the receiver/amount record of coin_received twice.
	DuplicateRecordOnRecv bool
	// DuplicateEventOnRecv emits the whole recv_packet event twice.
	DuplicateEventOnRecv bool
	// CloseHandshakes closes channels instead of opening them.
	CloseHandshakes bool
	// SkipRefund keeps fee refunds in escrow.
	SkipRefund bool
}

// Network owns every ledger and the relayer. It is safe for concurrent use.
type Network struct {
	mu      sync.Mutex
	log     *zap.Logger
	ledgers []*Ledger
	conns   int
	faults  Faults
	escrow  EscrowPolicy
	now     func() time.Time
	// relayDelay is how old a packet must be before the relayer picks it up.
	relayDelay time.Duration
}

// NewNetwork creates an empty network.
func NewNetwork(log *zap.Logger) *Network {
	if log == nil {
		log = zap.NewNop()
	}
	return &Network{log: log, now: time.Now}
}

// SetFaults replaces the injected faults.
func (n *Network) SetFaults(f Faults) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = f
}

// SetEscrowPolicy changes how packet fees are locked.
func (n *Network) SetEscrowPolicy(p EscrowPolicy) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escrow = p
}

// SetRelayDelay makes the relayer leave packets alone until they are at least d old,
// leaving room to incentivize them first.
func (n *Network) SetRelayDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.relayDelay = d
}

// AddLedger creates a ledger with a funded relayer account.
func (n *Network) AddLedger(cfg ibc.ChainConfig) *Ledger {
	n.mu.Lock()
	defer n.mu.Unlock()
	l := &Ledger{
		net:      n,
		cfg:      cfg,
		height:   1,
		keys:     make(map[string]string),
		balances: make(map[string]sdk.Coins),
		channels: make(map[string]*channelEnd),
		traces:   make(map[string]ibc.DenomTrace),
		packets:  make(map[ibc.PacketID]*inflight),
		fees:     make(map[ibc.PacketID][]escrowedFee),
		payees:   make(map[string]string),
	}
	l.addKeyLocked(RelayerKey)
	n.ledgers = append(n.ledgers, l)
	return l
}

// Connect opens a connection between a and b with an open transfer channel on it.
// It returns the connection id and the channel ids on a and b.
func (n *Network) Connect(a, b *Ledger) (connectionID, channelA, channelB string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	connectionID = fmt.Sprintf("connection-%d", n.conns)
	n.conns++
	endA := a.newChannelLocked(connectionID, ibc.TransferPortID, ibc.StateOpen)
	endB := b.newChannelLocked(connectionID, ibc.TransferPortID, ibc.StateOpen)
	endA.counterparty, endB.counterparty = endB, endA
	return connectionID, endA.id, endB.id
}

// RelayOnce performs one relay round over every ledger and returns how many
// steps it took.
func (n *Network) RelayOnce() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.faults.Stalled {
		return 0
	}
	steps := 0
	for _, l := range n.ledgers {
		steps += l.advanceHandshakesLocked()
	}
	for _, l := range n.ledgers {
		steps += l.relayPacketsLocked()
	}
	return steps
}

// StartRelayer relays every interval until ctx is done.
func (n *Network) StartRelayer(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if steps := n.RelayOnce(); steps > 0 {
					n.log.Debug("relayed", zap.Int("steps", steps))
				}
			}
		}
	}()
}

func addressFor(prefix, name string) string {
	sum := sha256.Sum256([]byte(prefix + "/" + name))
	addr, err := bech32.ConvertAndEncode(prefix, sum[:20])
	if err != nil {
		panic(err)
	}
	return addr
}
