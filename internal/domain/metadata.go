package domain

// NFTMetadata is the off-chain JSON record pinned to the content store.
// The on-chain tokenURI points at this object; Image points at the
// previously pinned asset. Field names follow the common NFT metadata
// convention, so the JSON tags are part of the wire contract.
type NFTMetadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"` // ipfs://<hash> of the asset
	Attributes  []Attribute `json:"attributes"`
	CreatedBy   string      `json:"created_by,omitempty"`
	Timestamp   int64       `json:"timestamp,omitempty"` // Unix ms, set at assembly time
}

// Attribute is a single display trait on a token's metadata.
type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}
