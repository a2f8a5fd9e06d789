// Package types provides common type definitions shared across the airdrop tool.
package types

// Chain identifies a target blockchain network by its configured name.
type Chain string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum Chain = "ethereum"
	// ChainPolygon represents the Polygon network
	ChainPolygon Chain = "polygon"
	// ChainArbitrum represents the Arbitrum network
	ChainArbitrum Chain = "arbitrum"
	// ChainOptimism represents the Optimism network
	ChainOptimism Chain = "optimism"
	// ChainBase represents the Base network
	ChainBase Chain = "base"
	// ChainBNB represents the BNB Chain (BSC)
	ChainBNB Chain = "bnb"
)

// CategoryTaskon is the default campaign category carried on every request.
const CategoryTaskon = "taskon"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Paging defaults enforced on every paginated read.
const (
	DefaultPageSize = 30
	MaxPageSize     = 100
)

// PageOptions selects one page of a paginated read. PageNo is zero-based.
type PageOptions struct {
	PageNo int `json:"pageNo"`
	Size   int `json:"size"`
}

// PageResult echoes the applied page options plus the total row count for the filter.
type PageResult struct {
	PageNo int `json:"pageNo"`
	Size   int `json:"size"`
	Total  int `json:"total"`
}

// Normalize clamps page options into the server-enforced range: negative page
// numbers become zero, a non-positive size becomes DefaultPageSize, and sizes
// above MaxPageSize are capped.
func (p PageOptions) Normalize() PageOptions {
	if p.PageNo < 0 {
		p.PageNo = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

// Offset returns the row offset for the page.
func (p PageOptions) Offset() int {
	return p.PageNo * p.Size
}
