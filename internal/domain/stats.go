package domain

import "math/big"

// MarketplaceStats is the contract-wide aggregate recomputed on-chain.
// The client only caches the latest snapshot.
type MarketplaceStats struct {
	TotalVolume       *big.Int // wei, cumulative sale volume
	TotalTransactions uint64
	MarketplaceFee    uint64 // basis points
	MaxRoyaltyFee     uint64 // basis points, upper bound for mint royalties
}

// ContractStats is the getContractStats result: token counts plus the
// marketplace aggregate.
type ContractStats struct {
	TotalNFTs   uint64
	TotalOnSale uint64
	Stats       MarketplaceStats
}

// UserStats is the per-address aggregate from getUserStats.
type UserStats struct {
	TokensOwned     uint64
	TokensSold      uint64
	TokensPurchased uint64
	TotalSpent      *big.Int // wei
	TotalEarned     *big.Int // wei
}
