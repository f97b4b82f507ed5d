package signing

import "errors"

var (
	ErrNotAParty      = errors.New("signer is not a party to the contract")
	ErrAlreadySigned  = errors.New("party has already signed")
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrNotFullySigned = errors.New("contract is not signed by both parties")
	ErrContractClosed = errors.New("contract is not open for signature")
	ErrNotSealed      = errors.New("contract document is not sealed")
	ErrNotSigned      = errors.New("party has not signed")
)
