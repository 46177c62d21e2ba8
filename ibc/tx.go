package ibc

import (
	"fmt"

	sdk "github.com/cosmos/cosmos-sdk/types"
)

// Tx is a transaction the verifier can ask a ledger to sign and broadcast.
// Implementations are plain values; how they are encoded is up to the Submitter.
type Tx interface {
	// Signer is the key name or address that signs the tx.
	Signer() string
	// Args returns the cli arguments after "tx", without signing flags.
	Args() []string
}

// TxOptions are flags shared by every tx.
type TxOptions struct {
	Fees      string
	Gas       string
	GasPrices string
	// WaitBlocks is how many blocks to wait after a successful broadcast.
	WaitBlocks int
}

func (o TxOptions) flags() []string {
	var flags []string
	if o.Fees != "" {
		flags = append(flags, "--fees", o.Fees)
	}
	if o.Gas != "" {
		flags = append(flags, "--gas", o.Gas)
	}
	if o.GasPrices != "" {
		flags = append(flags, "--gas-prices", o.GasPrices)
	}
	return flags
}

// TransferTx is an ics20 MsgTransfer.
type TransferTx struct {
	From          string
	Receiver      string
	SourcePort    string
	SourceChannel string
	Amount        sdk.Coin
	// TimeoutHeight is a revision 0 height offset; zero leaves the cli default.
	TimeoutHeight uint64
	// TimeoutTimestamp in nanoseconds; takes precedence over TimeoutHeight.
	TimeoutTimestamp Nanoseconds
	Memo             string
	Options          TxOptions
}

func (tx TransferTx) Signer() string { return tx.From }

func (tx TransferTx) Args() []string {
	port := tx.SourcePort
	if port == "" {
		port = TransferPortID
	}
	args := []string{
		"ibc-transfer", "transfer", port, tx.SourceChannel,
		tx.Receiver, tx.Amount.String(),
	}
	if tx.TimeoutTimestamp > 0 {
		args = append(args, "--packet-timeout-timestamp", fmt.Sprint(uint64(tx.TimeoutTimestamp)))
	} else if tx.TimeoutHeight > 0 {
		args = append(args, "--packet-timeout-height", fmt.Sprintf("0-%d", tx.TimeoutHeight))
	}
	if tx.Memo != "" {
		args = append(args, "--memo", tx.Memo)
	}
	return append(args, tx.Options.flags()...)
}

// PayPacketFeeTx escrows a relayer incentive for an already sent packet (ics29).
type PayPacketFeeTx struct {
	From    string
	Packet  PacketID
	Fee     Fee
	Options TxOptions
}

func (tx PayPacketFeeTx) Signer() string { return tx.From }

func (tx PayPacketFeeTx) Args() []string {
	args := []string{
		"ibc-fee", "pay-packet-fee", tx.Packet.PortID, tx.Packet.ChannelID, fmt.Sprint(tx.Packet.Sequence),
		"--recv-fee", tx.Fee.RecvFee.String(),
		"--ack-fee", tx.Fee.AckFee.String(),
		"--timeout-fee", tx.Fee.TimeoutFee.String(),
	}
	return append(args, tx.Options.flags()...)
}

// RegisterPayeeTx registers the address that receives the recv fee on behalf of a relayer.
type RegisterPayeeTx struct {
	From      string
	PortID    string
	ChannelID string
	Relayer   string
	Payee     string
	// Counterparty registers a counterparty payee instead of a payee.
	Counterparty bool
	Options      TxOptions
}

func (tx RegisterPayeeTx) Signer() string { return tx.From }

func (tx RegisterPayeeTx) Args() []string {
	cmd := "register-payee"
	if tx.Counterparty {
		cmd = "register-counterparty-payee"
	}
	args := []string{"ibc-fee", cmd, tx.PortID, tx.ChannelID, tx.Relayer, tx.Payee}
	return append(args, tx.Options.flags()...)
}

// BankSendTx is a plain bank transfer within one ledger.
type BankSendTx struct {
	From    string
	To      string
	Amount  sdk.Coins
	Options TxOptions
}

func (tx BankSendTx) Signer() string { return tx.From }

func (tx BankSendTx) Args() []string {
	args := []string{"bank", "send", tx.From, tx.To, tx.Amount.String()}
	return append(args, tx.Options.flags()...)
}

// RegisterICATx registers an interchain account over a connection, which
// starts a channel handshake on a fresh controller port.
type RegisterICATx struct {
	From         string
	ConnectionID string
	Version      string
	Options      TxOptions
}

func (tx RegisterICATx) Signer() string { return tx.From }

func (tx RegisterICATx) Args() []string {
	args := []string{"interchain-accounts", "controller", "register", tx.ConnectionID}
	if tx.Version != "" {
		args = append(args, "--version", tx.Version)
	}
	return append(args, tx.Options.flags()...)
}

// OptionsOf returns the shared options of the txs defined in this package.
func OptionsOf(tx Tx) TxOptions {
	switch tx := tx.(type) {
	case TransferTx:
		return tx.Options
	case PayPacketFeeTx:
		return tx.Options
	case RegisterPayeeTx:
		return tx.Options
	case BankSendTx:
		return tx.Options
	case RegisterICATx:
		return tx.Options
	}
	return TxOptions{}
}
