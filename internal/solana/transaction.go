package solana

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solanago "github.com/gagliardetto/solana-go"
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrUnknownSigner        = errors.New("public key is not a required signer")
	ErrInvalidSignature     = errors.New("invalid signature length")
)

// MessageHeader is the three-byte header at the start of a message.
type MessageHeader = solanago.MessageHeader

// Transaction is a wire-format Solana transaction: a compact array of
// signatures followed by the message they sign. The decoded form comes from
// solana-go, the message bytes are kept as received so that signatures
// always cover exactly what the caller sent.
type Transaction struct {
	tx      *solanago.Transaction
	message []byte
}

// NewTransaction wraps a serialized message with empty signature slots.
func NewTransaction(message []byte) (*Transaction, error) {
	msg, err := decodeMessage(message)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		tx: &solanago.Transaction{
			Signatures: make([]solanago.Signature, msg.Header.NumRequiredSignatures),
			Message:    *msg,
		},
		message: append([]byte(nil), message...),
	}, nil
}

// ParseTransaction decodes a full wire-format transaction.
func ParseTransaction(raw []byte) (*Transaction, error) {
	dec := bin.NewBinDecoder(raw)
	n, err := dec.ReadCompactU16()
	if err != nil {
		return nil, fmt.Errorf("%w: signature count: %v", ErrMalformedTransaction, err)
	}
	sigs := make([]solanago.Signature, 0, min(n, len(raw)/SignatureLength))
	for i := 0; i < n; i++ {
		b, err := dec.ReadNBytes(SignatureLength)
		if err != nil {
			return nil, fmt.Errorf("%w: truncated signatures", ErrMalformedTransaction)
		}
		var sig solanago.Signature
		copy(sig[:], b)
		sigs = append(sigs, sig)
	}

	message := raw[len(raw)-dec.Remaining():]
	msg, err := decodeMessage(message)
	if err != nil {
		return nil, err
	}
	if int(msg.Header.NumRequiredSignatures) != n {
		return nil, fmt.Errorf("%w: %d signatures for %d required signers", ErrMalformedTransaction, n, msg.Header.NumRequiredSignatures)
	}
	return &Transaction{
		tx:      &solanago.Transaction{Signatures: sigs, Message: *msg},
		message: append([]byte(nil), message...),
	}, nil
}

// decodeMessage parses a legacy or v0 message and rejects trailing bytes.
func decodeMessage(b []byte) (*solanago.Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedTransaction)
	}
	var msg solanago.Message
	dec := bin.NewBinDecoder(b)
	if err := msg.UnmarshalWithDecoder(dec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if n := dec.Remaining(); n != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, n)
	}
	if len(msg.AccountKeys) < int(msg.Header.NumRequiredSignatures) {
		return nil, fmt.Errorf("%w: %d accounts for %d signers", ErrMalformedTransaction, len(msg.AccountKeys), msg.Header.NumRequiredSignatures)
	}
	return &msg, nil
}

// Header returns the message header.
func (tx *Transaction) Header() MessageHeader {
	return tx.tx.Message.Header
}

// Version is the message version, or -1 for legacy messages.
func (tx *Transaction) Version() int {
	if tx.tx.Message.GetVersion() == solanago.MessageVersionLegacy {
		return -1
	}
	return 0
}

// Signers returns the accounts whose signatures the message requires, in
// signature slot order.
func (tx *Transaction) Signers() []PublicKey {
	keys := tx.tx.Message.AccountKeys[:tx.tx.Message.Header.NumRequiredSignatures]
	out := make([]PublicKey, len(keys))
	for i, k := range keys {
		out[i] = PublicKey(append([]byte(nil), k[:]...))
	}
	return out
}

// SignatureSlots returns a copy of every signature slot, zeroed slots
// included.
func (tx *Transaction) SignatureSlots() [][]byte {
	out := make([][]byte, len(tx.tx.Signatures))
	for i, sig := range tx.tx.Signatures {
		out[i] = append([]byte(nil), sig[:]...)
	}
	return out
}

// SerializeSignableMessage returns the bytes a signer must sign. The
// message is never hashed here.
func (tx *Transaction) SerializeSignableMessage() ([]byte, error) {
	return append([]byte(nil), tx.message...), nil
}

// AttachSignature stores sig in the slot belonging to pubkey. Nothing is
// modified when pubkey is not a required signer.
func (tx *Transaction) AttachSignature(pubkey PublicKey, sig []byte) error {
	if len(sig) != SignatureLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(sig))
	}
	i := tx.slot(pubkey)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownSigner, pubkey)
	}
	copy(tx.tx.Signatures[i][:], sig)
	return nil
}

// Signature returns the signature stored for pubkey, or nil.
func (tx *Transaction) Signature(pubkey PublicKey) []byte {
	i := tx.slot(pubkey)
	if i < 0 || tx.tx.Signatures[i] == (solanago.Signature{}) {
		return nil
	}
	return append([]byte(nil), tx.tx.Signatures[i][:]...)
}

func (tx *Transaction) slot(pubkey PublicKey) int {
	for i, signer := range tx.Signers() {
		if signer.Equal(pubkey) {
			return i
		}
	}
	return -1
}

// MarshalBinary encodes the transaction in wire format.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBinEncoder(&buf)
	if err := enc.WriteCompactU16(len(tx.tx.Signatures)); err != nil {
		return nil, err
	}
	for _, sig := range tx.tx.Signatures {
		if err := enc.WriteBytes(sig[:], false); err != nil {
			return nil, err
		}
	}
	buf.Write(tx.message)
	return buf.Bytes(), nil
}
