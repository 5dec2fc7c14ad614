package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// Exchange contracts that verify order signatures, keyed by chain ID.
var exchangeContracts = map[int]common.Address{
	137:   common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
	80002: common.HexToAddress("0xdFE02Eb6733538f8Ea35D585af8DE5958AD99E40"),
}

var (
	authDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)
	exchangeDomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	clobAuthTypeHash = ethcrypto.Keccak256(
		[]byte("ClobAuth(address address,string timestamp,uint256 nonce,string message)"),
	)
	orderTypeHash = ethcrypto.Keccak256(
		[]byte("Order(uint256 salt,address maker,address signer,address taker,uint256 tokenId,uint256 makerAmount,uint256 takerAmount,uint256 expiration,uint256 nonce,uint256 feeRateBps,uint8 side,uint8 signatureType)"),
	)
)

const clobAuthMessage = "This message attests that I control the given wallet"

// OrderPayload is the signed portion of a CLOB order. Big numbers travel as
// decimal strings so they survive JSON unchanged.
type OrderPayload struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Side          int    `json:"side"`          // 0 = BUY, 1 = SELL
	SignatureType int    `json:"signatureType"` // 0 = EOA, 1 = POLY_PROXY, 2 = POLY_GNOSIS_SAFE
}

// Signer holds the local account's key and signs venue payloads with it.
type Signer struct {
	privateKey     *ecdsa.PrivateKey
	address        common.Address
	funder         common.Address
	chainID        int
	authDomain     []byte
	exchangeDomain []byte
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the target chain ID (137 for Polygon mainnet, 80002 for Amoy testnet).
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	exchange, ok := exchangeContracts[chainID]
	if !ok {
		return nil, fmt.Errorf("crypto/signer: no exchange contract for chain %d", chainID)
	}

	addr := ethcrypto.PubkeyToAddress(pk.PublicKey)
	return &Signer{
		privateKey: pk,
		address:    addr,
		funder:     addr,
		chainID:    chainID,
		authDomain: ethcrypto.Keccak256(concatBytes(
			authDomainTypeHash,
			ethcrypto.Keccak256([]byte("ClobAuthDomain")),
			ethcrypto.Keccak256([]byte("1")),
			uint256(big.NewInt(int64(chainID))),
		)),
		exchangeDomain: ethcrypto.Keccak256(concatBytes(
			exchangeDomainTypeHash,
			ethcrypto.Keccak256([]byte("Polymarket CTF Exchange")),
			ethcrypto.Keccak256([]byte("1")),
			uint256(big.NewInt(int64(chainID))),
			common.LeftPadBytes(exchange.Bytes(), 32),
		)),
	}, nil
}

// WithFunder sets the address that holds collateral when orders are placed
// through a proxy or Safe wallet. The signing key stays the same.
func (s *Signer) WithFunder(funder string) *Signer {
	if funder != "" {
		s.funder = common.HexToAddress(funder)
	}
	return s
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// Funder returns the address orders are placed for.
func (s *Signer) Funder() common.Address {
	return s.funder
}

// SignAuthMessage signs the ClobAuth message used to derive L2 API
// credentials.
func (s *Signer) SignAuthMessage(timestamp, nonce int64) (string, error) {
	structHash := ethcrypto.Keccak256(concatBytes(
		clobAuthTypeHash,
		common.LeftPadBytes(s.address.Bytes(), 32),
		ethcrypto.Keccak256([]byte(fmt.Sprintf("%d", timestamp))),
		uint256(big.NewInt(nonce)),
		ethcrypto.Keccak256([]byte(clobAuthMessage)),
	))
	return s.signDigest(typedDataHash(s.authDomain, structHash))
}

// SignOrder signs an order against the exchange domain and returns the
// 65-byte signature as 0x-prefixed hex.
func (s *Signer) SignOrder(order OrderPayload) (string, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return "", err
	}
	return s.signDigest(typedDataHash(s.exchangeDomain, structHash))
}

// RecoverOrderSigner returns the address that produced sig over order.
func (s *Signer) RecoverOrderSigner(order OrderPayload, sig string) (common.Address, error) {
	structHash, err := orderStructHash(order)
	if err != nil {
		return common.Address{}, err
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil || len(raw) != 65 {
		return common.Address{}, fmt.Errorf("crypto/signer: malformed signature")
	}
	raw[64] -= 27
	pub, err := ethcrypto.SigToPub(typedDataHash(s.exchangeDomain, structHash), raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto/signer: recover: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SideIndex maps a side onto the on-chain enum.
func SideIndex(side domain.Side) int {
	if side == domain.SideSell {
		return 1
	}
	return 0
}

// typedDataHash computes keccak256("\x19\x01" || domainSeparator || structHash).
func typedDataHash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}
	// go-ethereum returns v in {0,1}; the venue expects {27,28}.
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

func orderStructHash(o OrderPayload) ([]byte, error) {
	fields := []struct {
		name, val string
	}{
		{"salt", o.Salt},
		{"tokenId", o.TokenID},
		{"makerAmount", o.MakerAmount},
		{"takerAmount", o.TakerAmount},
		{"expiration", o.Expiration},
		{"nonce", o.Nonce},
		{"feeRateBps", o.FeeRateBps},
	}
	nums := make(map[string]*big.Int, len(fields))
	for _, f := range fields {
		n, ok := new(big.Int).SetString(f.val, 10)
		if !ok {
			return nil, fmt.Errorf("crypto/signer: invalid %s %q", f.name, f.val)
		}
		nums[f.name] = n
	}

	return ethcrypto.Keccak256(concatBytes(
		orderTypeHash,
		uint256(nums["salt"]),
		common.LeftPadBytes(common.HexToAddress(o.Maker).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Signer).Bytes(), 32),
		common.LeftPadBytes(common.HexToAddress(o.Taker).Bytes(), 32),
		uint256(nums["tokenId"]),
		uint256(nums["makerAmount"]),
		uint256(nums["takerAmount"]),
		uint256(nums["expiration"]),
		uint256(nums["nonce"]),
		uint256(nums["feeRateBps"]),
		uint256(big.NewInt(int64(o.Side))),
		uint256(big.NewInt(int64(o.SignatureType))),
	)), nil
}

// uint256 returns the 32-byte big-endian ABI encoding of n.
func uint256(n *big.Int) []byte {
	return common.LeftPadBytes(n.Bytes(), 32)
}

func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
