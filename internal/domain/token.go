package domain

import "math/big"

// TokenID identifies a token on the marketplace contract. IDs are
// assigned sequentially starting at 1.
type TokenID uint64

// TokenData is the on-chain record written at mint time plus the
// mutable sale fields.
type TokenData struct {
	Creator            string
	RoyaltyBasisPoints uint64
	CreatedAt          int64 // unix seconds, block timestamp of the mint
	Price              *big.Int
	IsForSale          bool
}

// TokenDetail is the assembled view of one token: the on-chain record,
// its current owner, and the off-chain metadata resolved from the token
// URI. Metadata and ImageURL are best-effort; when resolution fails
// IntegrityErr says why and the on-chain fields still stand.
type TokenDetail struct {
	ID       TokenID
	Data     TokenData
	Owner    string
	TokenURI string

	Metadata     *NFTMetadata
	ImageURL     string
	IntegrityErr error
}
