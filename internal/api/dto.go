package api

import (
	"github.com/starford/othala/internal/itemservice"
)

// CreateItemRequest is the request body for creating an item. Name is
// optional; when omitted the server mints a fresh identity.
type CreateItemRequest struct {
	Name string `json:"name,omitempty" example:"bug-1042"`
}

// NewRecordRequest is the JSON request body for appending a record.
// File contents are plain text; binary files go through the multipart
// form of the same endpoint.
type NewRecordRequest struct {
	Files     map[string]string `json:"files" validate:"required"`
	LinkHeads *bool             `json:"link_heads,omitempty"`
}

// RelocateItemRequest names the destination directory for a relocation,
// relative to the repository root.
type RelocateItemRequest struct {
	Dest string `json:"dest" example:"archive/bug-1042" validate:"required"`
}

// ItemDetail is the full item response type (aliased from the domain layer).
type ItemDetail = itemservice.ItemDetail

// ItemListEntry is a lightweight entry in a list response (aliased from the domain layer).
type ItemListEntry = itemservice.ItemListEntry

// RecordDetail describes one record (aliased from the domain layer).
type RecordDetail = itemservice.RecordDetail

// CheckReport summarizes an integrity sweep (aliased from the domain layer).
type CheckReport = itemservice.CheckReport

// ItemListResponse wraps paginated item listings.
type ItemListResponse struct {
	Items []ItemListEntry `json:"items" validate:"required"`
	Total int             `json:"total" example:"42" validate:"required"`
}

// GenerationsResponse carries the layered record walk of one item.
// Remaining lists directory entries the walk could not place.
type GenerationsResponse struct {
	Generations [][]RecordDetail `json:"generations" validate:"required"`
	Remaining   []string         `json:"remaining" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	Name    string `json:"name" example:"bug-1042" validate:"required"`
	Title   string `json:"title" example:"Fix the login flow"`
	Snippet string `json:"snippet" example:"...matched state..." validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// ModulesResponse lists resolved module directories.
type ModulesResponse struct {
	Modules []string `json:"modules" validate:"required"`
}

// RefreshResponse reports whether a refresh recomputed the cached state.
type RefreshResponse struct {
	Refreshed bool `json:"refreshed" validate:"required"`
}
